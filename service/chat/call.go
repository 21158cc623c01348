package chat

import (
	"sync"
	"time"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/ids"
)

// CallState is the per-call lifecycle.
type CallState int32

const (
	CallRinging CallState = iota + 1
	CallConnected
	CallEnded
	CallDeclined
)

func (s CallState) String() string {
	switch s {
	case CallRinging:
		return "ringing"
	case CallConnected:
		return "connected"
	case CallEnded:
		return "ended"
	case CallDeclined:
		return "declined"
	default:
		return "unknown"
	}
}

// CallSession is owned exclusively by the engine's registry.
type CallSession struct {
	ID        string
	CallerID  string
	CalleeID  string
	Kind      string // audio | video
	State     CallState
	Offer     SDPDesc
	Answer    *SDPDesc
	CreatedAt time.Time
}

func (c *CallSession) peerOf(userID string) string {
	if userID == c.CallerID {
		return c.CalleeID
	}
	return c.CallerID
}

func (c *CallSession) involves(userID string) bool {
	return userID == c.CallerID || userID == c.CalleeID
}

// CallEngine coordinates invite/answer/candidate/hangup between exactly two
// participants. One mutex guards both indexes so a two-sided invite race
// resolves deterministically: one session wins, the loser gets busy.
type CallEngine struct {
	mgr *ConnManager

	mu     sync.Mutex
	byID   map[string]*CallSession
	byUser map[string]string // participant -> call id; one active call per user
}

func NewCallEngine(mgr *ConnManager) *CallEngine {
	return &CallEngine{
		mgr:    mgr,
		byID:   make(map[string]*CallSession),
		byUser: make(map[string]string),
	}
}

type callIncomingEvent struct {
	CallID    string  `json:"callId"`
	From      string  `json:"from"`
	SDP       SDPDesc `json:"sdp"`
	Kind      string  `json:"kind"`
	Timestamp int64   `json:"timestamp"`
}

type callBusyEvent struct {
	To     string `json:"to"`
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type callAnswerEvent struct {
	CallID string   `json:"callId"`
	From   string   `json:"from"`
	Accept bool     `json:"accept"`
	SDP    *SDPDesc `json:"sdp,omitempty"`
}

type callCandidateEvent struct {
	CallID    string         `json:"callId"`
	From      string         `json:"from"`
	Candidate map[string]any `json:"candidate"`
}

type callHangupEvent struct {
	CallID string `json:"callId"`
	By     string `json:"by"`
}

// Invite creates a ringing session and notifies the callee. If either
// participant is already in a call the invite loses: the caller gets
// call:busy and no state is touched (first-invite-wins, no queuing).
func (e *CallEngine) Invite(callerID string, req *CallInviteReq) error {
	if req.To == "" {
		return errs.ErrValidation.WrapMsg("callee required")
	}
	if req.SDP == nil || req.SDP.Type == "" || req.SDP.SDP == "" {
		return errs.ErrValidation.WrapMsg("offer sdp required")
	}
	kind := req.Kind
	if kind == "" {
		kind = "audio"
	}

	e.mu.Lock()
	if _, busy := e.byUser[callerID]; busy {
		e.mu.Unlock()
		e.sendBusy(callerID, req.To)
		return nil
	}
	if _, busy := e.byUser[req.To]; busy {
		e.mu.Unlock()
		e.sendBusy(callerID, req.To)
		return nil
	}
	sess := &CallSession{
		ID:        ids.GenerateString(),
		CallerID:  callerID,
		CalleeID:  req.To,
		Kind:      kind,
		State:     CallRinging,
		Offer:     *req.SDP,
		CreatedAt: time.Now(),
	}
	e.byID[sess.ID] = sess
	e.byUser[callerID] = sess.ID
	e.byUser[req.To] = sess.ID
	e.mu.Unlock()

	e.mgr.SendToUser(req.To, MarshalEvent(EvCallIncoming, callIncomingEvent{
		CallID:    sess.ID,
		From:      callerID,
		SDP:       sess.Offer,
		Kind:      kind,
		Timestamp: nowMillis(),
	}))
	return nil
}

// Answer moves RINGING to CONNECTED on accept, or tears the session down on
// decline. Only the registered callee may answer.
func (e *CallEngine) Answer(userID string, req *CallAnswerReq) error {
	e.mu.Lock()
	sess, ok := e.byID[req.CallID]
	if !ok {
		e.mu.Unlock()
		return errs.ErrNotFound.WrapMsg("call", "id", req.CallID)
	}
	if sess.CalleeID != userID {
		e.mu.Unlock()
		return errs.ErrNotFound.WrapMsg("not the callee", "call", req.CallID)
	}
	if sess.State != CallRinging {
		// duplicate answer on a settled call, drop it
		e.mu.Unlock()
		return nil
	}
	if req.Accept {
		sess.State = CallConnected
		sess.Answer = req.SDP
	} else {
		sess.State = CallDeclined
		e.removeLocked(sess)
	}
	caller := sess.CallerID
	e.mu.Unlock()

	e.mgr.SendToUser(caller, MarshalEvent(EvCallAnswer, callAnswerEvent{
		CallID: req.CallID,
		From:   userID,
		Accept: req.Accept,
		SDP:    req.SDP,
	}))
	return nil
}

// RelayCandidate forwards an ICE candidate verbatim to the other participant.
// Candidates arriving after teardown are an expected race and are dropped.
func (e *CallEngine) RelayCandidate(userID string, req *CallCandidateReq) error {
	e.mu.Lock()
	sess, ok := e.byID[req.CallID]
	if !ok || !sess.involves(userID) {
		e.mu.Unlock()
		return nil
	}
	peer := sess.peerOf(userID)
	e.mu.Unlock()

	e.mgr.SendToUser(peer, MarshalEvent(EvCallCandidate, callCandidateEvent{
		CallID:    req.CallID,
		From:      userID,
		Candidate: req.Candidate,
	}))
	return nil
}

// Hangup ends the call from any state and notifies the other side.
// Idempotent: an unknown or already-ended call is a silent no-op.
func (e *CallEngine) Hangup(userID, callID string) error {
	e.mu.Lock()
	sess, ok := e.byID[callID]
	if !ok || !sess.involves(userID) {
		e.mu.Unlock()
		return nil
	}
	sess.State = CallEnded
	e.removeLocked(sess)
	peer := sess.peerOf(userID)
	e.mu.Unlock()

	e.mgr.SendToUser(peer, MarshalEvent(EvCallHangup, callHangupEvent{
		CallID: callID,
		By:     userID,
	}))
	return nil
}

// HandleUserDisconnect force-hangs-up every call involving the user so no
// orphaned ringing/connected call survives their disconnection.
func (e *CallEngine) HandleUserDisconnect(userID string) {
	e.mu.Lock()
	var affected []*CallSession
	for _, sess := range e.byID {
		if sess.involves(userID) {
			affected = append(affected, sess)
		}
	}
	for _, sess := range affected {
		sess.State = CallEnded
		e.removeLocked(sess)
	}
	e.mu.Unlock()

	for _, sess := range affected {
		peer := sess.peerOf(userID)
		logger.Infof("[call] force hangup call=%s user=%s peer=%s", sess.ID, userID, peer)
		e.mgr.SendToUser(peer, MarshalEvent(EvCallHangup, callHangupEvent{
			CallID: sess.ID,
			By:     userID,
		}))
	}
}

// ActiveCall looks up the user's current call, if any.
func (e *CallEngine) ActiveCall(userID string) (*CallSession, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.byUser[userID]
	if !ok {
		return nil, false
	}
	sess, ok := e.byID[id]
	return sess, ok
}

// Count reports the number of live call sessions.
func (e *CallEngine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byID)
}

func (e *CallEngine) removeLocked(sess *CallSession) {
	delete(e.byID, sess.ID)
	if e.byUser[sess.CallerID] == sess.ID {
		delete(e.byUser, sess.CallerID)
	}
	if e.byUser[sess.CalleeID] == sess.ID {
		delete(e.byUser, sess.CalleeID)
	}
}

func (e *CallEngine) sendBusy(callerID, calleeID string) {
	e.mgr.SendToUser(callerID, MarshalEvent(EvCallBusy, callBusyEvent{
		To:     calleeID,
		Code:   errs.ErrBusy.Code,
		Reason: errs.ErrBusy.Msg,
	}))
}
