package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	chatmodel "github.com/ShanXtet/Android-Instant-Messaging-sub001/module/chat/model"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
)

// sinkConn captures everything written to a session.
type sinkConn struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (s *sinkConn) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *sinkConn) SetWriteDeadline(time.Time) error { return nil }

func (s *sinkConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type capturedEvent struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data"`
}

func (s *sinkConn) events() []capturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]capturedEvent, 0, len(s.frames))
	for _, f := range s.frames {
		var ev capturedEvent
		if err := json.Unmarshal(f, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

func (s *sinkConn) count(event string) int {
	n := 0
	for _, ev := range s.events() {
		if ev.Event == event {
			n++
		}
	}
	return n
}

// waitFor polls until the sink holds at least n frames of the given event;
// writes happen on the session writer goroutine.
func (s *sinkConn) waitFor(t *testing.T, event string, n int) []capturedEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var got []capturedEvent
		for _, ev := range s.events() {
			if ev.Event == event {
				got = append(got, ev)
			}
		}
		if len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, have %v", n, event, s.events())
	return nil
}

// expectNone asserts no frame of the given event arrives within the window.
func (s *sinkConn) expectNone(t *testing.T, event string) {
	t.Helper()
	time.Sleep(50 * time.Millisecond)
	if n := s.count(event); n > 0 {
		t.Fatalf("expected no %q events, got %d", event, n)
	}
}

func addSession(mgr *ConnManager, user, connID string) (*Session, *sinkConn, bool) {
	sink := &sinkConn{}
	sess, first := mgr.Add(user, connID, "test-device", nil, sink)
	return sess, sink, first
}

// fakeStore implements MessageStore in memory, mirroring the mongo $max
// merge semantics for the cursors.
type fakeStore struct {
	mu           sync.Mutex
	participants map[string][]string
	messages     map[string]*chatmodel.Message
	delivered    map[string]map[string]time.Time
	read         map[string]map[string]time.Time
	readMarks    [][]string // conversationID, userID, joined ids

	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		participants: make(map[string][]string),
		messages:     make(map[string]*chatmodel.Message),
		delivered:    make(map[string]map[string]time.Time),
		read:         make(map[string]map[string]time.Time),
	}
}

func (f *fakeStore) SaveMessage(_ context.Context, m *chatmodel.Message) (*chatmodel.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return nil, f.saveErr
	}
	f.messages[m.ID] = m
	return m, nil
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (*chatmodel.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("message", "id", id)
	}
	return m, nil
}

func (f *fakeStore) Participants(_ context.Context, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.participants[conversationID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("conversation", "id", conversationID)
	}
	return p, nil
}

func (f *fakeStore) MarkMessagesAsRead(_ context.Context, conversationID, userID string, messageIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readMarks = append(f.readMarks, append([]string{conversationID, userID}, messageIDs...))
	return nil
}

func (f *fakeStore) AdvanceDeliveredCursor(_ context.Context, conversationID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxMerge(f.delivered, conversationID, userID, at)
	return nil
}

func (f *fakeStore) AdvanceReadCursor(_ context.Context, conversationID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	maxMerge(f.read, conversationID, userID, at)
	return nil
}

func (f *fakeStore) deliveredAt(conv, user string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delivered[conv][user]
}

func (f *fakeStore) readAt(conv, user string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.read[conv][user]
}

func maxMerge(m map[string]map[string]time.Time, conv, user string, at time.Time) {
	mm := m[conv]
	if mm == nil {
		mm = make(map[string]time.Time)
		m[conv] = mm
	}
	if at.After(mm[user]) {
		mm[user] = at
	}
}

func testMessage(id, conv, sender string, created time.Time) *chatmodel.Message {
	return &chatmodel.Message{
		ID:             id,
		ConversationID: conv,
		SenderID:       sender,
		Content:        "msg " + id,
		CreatedAt:      created,
	}
}

// fakeMirror is an in-memory storage.Mirror.
type fakeMirror struct {
	mu     sync.Mutex
	online map[string]bool
	queued map[string][][]byte
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{online: make(map[string]bool), queued: make(map[string][][]byte)}
}

func (f *fakeMirror) SetOnline(_ context.Context, user, _ string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[user] = true
	return nil
}

func (f *fakeMirror) SetOffline(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, user)
	return nil
}

func (f *fakeMirror) QueueDelivered(_ context.Context, user string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued[user] = append(f.queued[user], payload)
	return nil
}

func (f *fakeMirror) DrainDelivered(_ context.Context, user string) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queued[user]
	delete(f.queued, user)
	return out, nil
}

// fakeOffline records push-boundary envelopes.
type fakeOffline struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newFakeOffline() *fakeOffline {
	return &fakeOffline{published: make(map[string][][]byte)}
}

func (f *fakeOffline) PublishOffline(userID string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[userID] = append(f.published[userID], payload)
}

func (f *fakeOffline) countFor(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[userID])
}
