package chat

import (
	"encoding/json"
	"time"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/decode"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
)

// EventType is the closed event vocabulary. Legacy client names are folded
// onto it by ParseFrame before anything else sees them.
type EventType string

// inbound
const (
	EvSendMessage       EventType = "send-message"
	EvMarkRead          EventType = "mark-read"
	EvDelivered         EventType = "delivered"
	EvReadUpTo          EventType = "read_up_to"
	EvTyping            EventType = "typing"
	EvTypingStopped     EventType = "typing-stopped"
	EvCallInvite        EventType = "call:invite"
	EvCallAnswer        EventType = "call:answer"
	EvCallCandidate     EventType = "call:candidate"
	EvCallHangup        EventType = "call:hangup"
	EvJoinConversation  EventType = "join-conversation"
	EvLeaveConversation EventType = "leave-conversation"
)

// outbound
const (
	EvConnected       EventType = "connected"
	EvMessageSent     EventType = "message-sent"
	EvNewMessage      EventType = "new-message"
	EvMessagesRead    EventType = "messages-read"
	EvPresenceOnline  EventType = "presence:online"
	EvPresenceOffline EventType = "presence:offline"
	EvCallIncoming    EventType = "call:incoming"
	EvCallBusy        EventType = "call:busy"
	EvCallError       EventType = "call:error"
	EvError           EventType = "error"
)

// legacyEvents maps the older call vocabulary one-to-one onto the canonical
// one. Semantics must never diverge between the two.
var legacyEvents = map[string]EventType{
	"call_offer":    EvCallInvite,
	"call_answer":   EvCallAnswer,
	"ice_candidate": EvCallCandidate,
	"call_end":      EvCallHangup,
}

// Event is one normalized inbound frame.
type Event struct {
	Type EventType
	Data map[string]any
}

type wireFrame struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

// ParseFrame decodes a raw client frame and normalizes legacy event names.
func ParseFrame(raw []byte) (*Event, error) {
	var f wireFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrValidation.WrapMsg("malformed frame")
	}
	if f.Event == "" {
		return nil, errs.ErrValidation.WrapMsg("missing event name")
	}
	typ := EventType(f.Event)
	if canonical, ok := legacyEvents[f.Event]; ok {
		typ = canonical
	}
	if f.Data == nil {
		f.Data = map[string]any{}
	}
	return &Event{Type: typ, Data: f.Data}, nil
}

// MarshalEvent encodes an outbound frame.
func MarshalEvent(event EventType, data any) []byte {
	b, err := json.Marshal(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: string(event), Data: data})
	if err != nil {
		// outbound payloads are our own structs; failure here is a bug
		return []byte(`{"event":"error","data":{"message":"encode failure"}}`)
	}
	return b
}

// ---- per-event request payloads (decoded via mapstructure, json tags) ----

type SendMessageReq struct {
	ConversationID string         `json:"conversationId"`
	Content        string         `json:"content"`
	ContentType    string         `json:"type"`
	Media          map[string]any `json:"media"`
	ReplyTo        string         `json:"replyTo"`
	ClientID       string         `json:"clientId"`
}

type MarkReadReq struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds"`
}

type DeliveredReq struct {
	MessageID string `json:"messageId"`
}

type ReadUpToReq struct {
	ConversationID string `json:"conversationId"`
	By             string `json:"by"`
	At             int64  `json:"at"` // unix millis, 0 means now
}

type TypingReq struct {
	ConversationID string `json:"conversationId"`
	Typing         *bool  `json:"typing"`
}

type SDPDesc struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type CallInviteReq struct {
	To   string   `json:"to"`
	SDP  *SDPDesc `json:"sdp"`
	Kind string   `json:"kind"`
}

type CallAnswerReq struct {
	CallID string   `json:"callId"`
	Accept bool     `json:"accept"`
	SDP    *SDPDesc `json:"sdp"`
}

type CallCandidateReq struct {
	CallID    string         `json:"callId"`
	Candidate map[string]any `json:"candidate"`
}

type CallHangupReq struct {
	CallID string `json:"callId"`
}

type RoomReq struct {
	ConversationID string `json:"conversationId"`
}

// decodeReq is the bounded adapter from the open payload map to a typed
// request. Ambiguity stops here.
func decodeReq[T any](data map[string]any) (*T, error) {
	out, err := decode.DecodeMap[T](data)
	if err != nil {
		return nil, errs.ErrValidation.WrapMsg(err.Error())
	}
	return out, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }
