package chat

import (
	"context"
)

// TypingCoordinator relays ephemeral typing signals. It is stateless beyond
// validation; stop events come from the client, never from a timeout here.
type TypingCoordinator struct {
	store MessageStore
	mgr   *ConnManager
}

func NewTypingCoordinator(store MessageStore, mgr *ConnManager) *TypingCoordinator {
	return &TypingCoordinator{store: store, mgr: mgr}
}

type typingEvent struct {
	From           string `json:"from"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
	Timestamp      int64  `json:"timestamp"`
}

// SetTyping silently drops malformed conversation ids ("", "null",
// "undefined" come out of broken client state). Typing is best-effort, so
// no error surfaces.
func (t *TypingCoordinator) SetTyping(ctx context.Context, userID string, conversationID string, isTyping bool) error {
	switch conversationID {
	case "", "null", "undefined":
		return nil
	}
	participants, err := t.store.Participants(ctx, conversationID)
	if err != nil {
		// best-effort: a missing conversation is dropped, not surfaced
		return nil
	}
	frame := MarshalEvent(EvTyping, typingEvent{
		From:           userID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
		Timestamp:      nowMillis(),
	})
	for _, p := range participants {
		if p == userID {
			continue
		}
		t.mgr.SendToUser(p, frame)
	}
	return nil
}
