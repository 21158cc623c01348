package chat

import (
	"context"
	"strings"
	"time"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
	chatmodel "github.com/ShanXtet/Android-Instant-Messaging-sub001/module/chat/model"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/service/storage"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/decode"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/ids"
)

// MessageStore is the external message/conversation collaborator. The mongo
// implementation lives in module/chat/message; tests inject a fake.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *chatmodel.Message) (*chatmodel.Message, error)
	GetMessage(ctx context.Context, id string) (*chatmodel.Message, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
	MarkMessagesAsRead(ctx context.Context, conversationID, userID string, messageIDs []string) error
	AdvanceDeliveredCursor(ctx context.Context, conversationID, userID string, at time.Time) error
	AdvanceReadCursor(ctx context.Context, conversationID, userID string, at time.Time) error
}

// OfflinePublisher hands envelopes for fully-offline recipients to the push
// boundary (kafka topic). Nil disables it.
type OfflinePublisher interface {
	PublishOffline(userID string, payload []byte)
}

// Relay persists outbound messages, fans them out to participants, and keeps
// the per-conversation delivery/read cursors moving forward.
type Relay struct {
	store   MessageStore
	mgr     *ConnManager
	mirror  storage.Mirror   // optional
	offline OfflinePublisher // optional
}

func NewRelay(store MessageStore, mgr *ConnManager, mirror storage.Mirror, offline OfflinePublisher) *Relay {
	return &Relay{store: store, mgr: mgr, mirror: mirror, offline: offline}
}

type messageSentAck struct {
	Message  *chatmodel.Message `json:"message"`
	ClientID string             `json:"clientId,omitempty"`
}

type deliveredEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	By             string `json:"by"`
	At             int64  `json:"at"`
}

type readUpToEvent struct {
	ConversationID string `json:"conversationId"`
	By             string `json:"by"`
	At             int64  `json:"at"`
}

type messagesReadAck struct {
	ConversationID string   `json:"conversationId"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

// SendMessage validates, persists, then broadcasts. Broadcast happens only
// after the store accepted the message, so a store failure never leaks a
// partial fan-out.
func (r *Relay) SendMessage(ctx context.Context, senderID string, req *SendMessageReq) (*chatmodel.Message, error) {
	if req.ConversationID == "" {
		return nil, errs.ErrValidation.WrapMsg("conversationId required")
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Media) == 0 {
		return nil, errs.ErrValidation.WrapMsg("content or media required")
	}

	participants, err := r.store.Participants(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	msg := &chatmodel.Message{
		ID:             ids.GenerateString(),
		ConversationID: req.ConversationID,
		SenderID:       senderID,
		Recipients:     others(participants, senderID),
		Content:        req.Content,
		ContentType:    req.ContentType,
		ReplyTo:        req.ReplyTo,
		CreatedAt:      time.Now(),
	}
	if len(req.Media) > 0 {
		media, derr := decode.DecodeMap[chatmodel.MediaRef](req.Media)
		if derr != nil {
			return nil, errs.ErrValidation.WrapMsg("malformed media ref")
		}
		msg.Media = media
	}

	saved, err := r.store.SaveMessage(ctx, msg)
	if err != nil {
		return nil, err
	}

	frame := MarshalEvent(EvNewMessage, saved)
	for _, p := range participants {
		if p == senderID {
			continue
		}
		if r.mgr.ConnCount(p) == 0 {
			if r.offline != nil {
				r.offline.PublishOffline(p, frame)
			}
			continue
		}
		r.mgr.SendToUser(p, frame)
	}

	// ack the sender on every device, tagged with the client correlation id
	r.mgr.SendToUser(senderID, MarshalEvent(EvMessageSent, messageSentAck{
		Message:  saved,
		ClientID: req.ClientID,
	}))
	return saved, nil
}

// MarkDelivered merges the receiver's delivery cursor forward and notifies
// the original sender. An unknown message id is treated as a race with
// deletion and dropped silently.
func (r *Relay) MarkDelivered(ctx context.Context, receiverID, messageID string) error {
	if messageID == "" {
		return errs.ErrValidation.WrapMsg("messageId required")
	}
	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		if errs.IsCode(err, errs.NotFoundErrorCode) {
			return nil
		}
		return err
	}
	if err := r.store.AdvanceDeliveredCursor(ctx, msg.ConversationID, receiverID, msg.CreatedAt); err != nil {
		return err
	}

	frame := MarshalEvent(EvDelivered, deliveredEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		By:             receiverID,
		At:             msg.CreatedAt.UnixMilli(),
	})
	if r.mgr.ConnCount(msg.SenderID) == 0 {
		// sender fully offline, park the receipt for reconnect catchup
		if r.mirror != nil {
			if qerr := r.mirror.QueueDelivered(ctx, msg.SenderID, frame); qerr != nil {
				logger.Warnf("[relay] queue delivered failed sender=%s err=%v", msg.SenderID, qerr)
			}
		}
		return nil
	}
	r.mgr.SendToUser(msg.SenderID, frame)
	return nil
}

// MarkReadUpTo advances the reader's read cursor (defaulting to now) and
// tells every other participant. It is a cursor, not per-message receipts:
// messages created after the timestamp stay unread by construction.
func (r *Relay) MarkReadUpTo(ctx context.Context, readerID string, req *ReadUpToReq) error {
	if req.ConversationID == "" {
		return errs.ErrValidation.WrapMsg("conversationId required")
	}
	at := time.UnixMilli(req.At)
	if req.At <= 0 {
		at = time.Now()
	}
	if err := r.store.AdvanceReadCursor(ctx, req.ConversationID, readerID, at); err != nil {
		return err
	}

	participants, err := r.store.Participants(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	frame := MarshalEvent(EvReadUpTo, readUpToEvent{
		ConversationID: req.ConversationID,
		By:             readerID,
		At:             at.UnixMilli(),
	})
	for _, p := range participants {
		if p == readerID {
			continue
		}
		r.mgr.SendToUser(p, frame)
	}
	return nil
}

// MarkRead delegates per-message read flags to the store and echoes the ack
// back to the reader.
func (r *Relay) MarkRead(ctx context.Context, readerID string, req *MarkReadReq) error {
	if req.ConversationID == "" {
		return errs.ErrValidation.WrapMsg("conversationId required")
	}
	if err := r.store.MarkMessagesAsRead(ctx, req.ConversationID, readerID, req.MessageIDs); err != nil {
		return err
	}
	r.mgr.SendToUser(readerID, MarshalEvent(EvMessagesRead, messagesReadAck{
		ConversationID: req.ConversationID,
		MessageIDs:     req.MessageIDs,
	}))
	return nil
}

func others(participants []string, self string) []string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != self {
			out = append(out, p)
		}
	}
	return out
}
