package chat

import (
	"context"
)

// registerHandlers binds the event vocabulary onto the relay, typing
// coordinator and call engine. All collaborators are injected at
// construction; nothing resolves lazily.
func (s *Server) registerHandlers() {
	d := s.disp

	d.Register(EvSendMessage, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[SendMessageReq](data)
		if err != nil {
			return err
		}
		_, err = s.relay.SendMessage(ctx, sess.UserID, req)
		return err
	})

	d.Register(EvMarkRead, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[MarkReadReq](data)
		if err != nil {
			return err
		}
		return s.relay.MarkRead(ctx, sess.UserID, req)
	})

	d.Register(EvDelivered, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[DeliveredReq](data)
		if err != nil {
			return err
		}
		return s.relay.MarkDelivered(ctx, sess.UserID, req.MessageID)
	})

	d.Register(EvReadUpTo, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[ReadUpToReq](data)
		if err != nil {
			return err
		}
		// "by" is the session user regardless of what the payload claims
		return s.relay.MarkReadUpTo(ctx, sess.UserID, req)
	})

	d.Register(EvTyping, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[TypingReq](data)
		if err != nil {
			return nil // typing is best-effort
		}
		isTyping := true
		if req.Typing != nil {
			isTyping = *req.Typing
		}
		return s.typing.SetTyping(ctx, sess.UserID, req.ConversationID, isTyping)
	})

	d.Register(EvTypingStopped, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[TypingReq](data)
		if err != nil {
			return nil
		}
		return s.typing.SetTyping(ctx, sess.UserID, req.ConversationID, false)
	})

	d.Register(EvCallInvite, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[CallInviteReq](data)
		if err != nil {
			return err
		}
		return s.calls.Invite(sess.UserID, req)
	})

	d.Register(EvCallAnswer, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[CallAnswerReq](data)
		if err != nil {
			return err
		}
		return s.calls.Answer(sess.UserID, req)
	})

	d.Register(EvCallCandidate, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[CallCandidateReq](data)
		if err != nil {
			return err
		}
		return s.calls.RelayCandidate(sess.UserID, req)
	})

	d.Register(EvCallHangup, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[CallHangupReq](data)
		if err != nil {
			return err
		}
		return s.calls.Hangup(sess.UserID, req.CallID)
	})

	d.Register(EvJoinConversation, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[RoomReq](data)
		if err != nil || req.ConversationID == "" {
			return nil
		}
		sess.JoinRoom(req.ConversationID)
		return nil
	})

	d.Register(EvLeaveConversation, func(ctx context.Context, sess *Session, data map[string]any) error {
		req, err := decodeReq[RoomReq](data)
		if err != nil || req.ConversationID == "" {
			return nil
		}
		sess.LeaveRoom(req.ConversationID)
		return nil
	})
}
