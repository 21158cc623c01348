package chat

import (
	"context"
	"testing"
	"time"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
)

func newRelayFixture(t *testing.T) (*Relay, *fakeStore, *ConnManager, *fakeMirror, *fakeOffline) {
	t.Helper()
	mgr := NewConnManager("gw-test", 8)
	t.Cleanup(mgr.Close)
	store := newFakeStore()
	mirror := newFakeMirror()
	offline := newFakeOffline()
	return NewRelay(store, mgr, mirror, offline), store, mgr, mirror, offline
}

func TestSendMessageBroadcastsAfterPersist(t *testing.T) {
	relay, store, mgr, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}

	_, aliceSink, _ := addSession(mgr, "alice", "a1")
	_, bobSink, _ := addSession(mgr, "bob", "b1")

	msg, err := relay.SendMessage(context.Background(), "alice", &SendMessageReq{
		ConversationID: "c1",
		Content:        "hi",
		ClientID:       "tmp-42",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID == "" || msg.SenderID != "alice" {
		t.Fatalf("persisted message malformed: %+v", msg)
	}

	acks := aliceSink.waitFor(t, "message-sent", 1)
	if acks[0].Data["clientId"] != "tmp-42" {
		t.Fatalf("ack missing client correlation id: %v", acks[0].Data)
	}
	inner, _ := acks[0].Data["message"].(map[string]any)
	if inner["content"] != "hi" {
		t.Fatalf("ack content = %v, want hi", inner["content"])
	}

	got := bobSink.waitFor(t, "new-message", 1)
	if got[0].Data["content"] != "hi" || got[0].Data["conversationId"] != "c1" {
		t.Fatalf("broadcast payload = %v", got[0].Data)
	}
	// sender does not receive the broadcast copy
	aliceSink.expectNone(t, "new-message")
}

func TestSendMessageValidation(t *testing.T) {
	relay, store, _, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}

	cases := []struct {
		name string
		req  SendMessageReq
	}{
		{"missing conversation", SendMessageReq{Content: "hi"}},
		{"empty content and media", SendMessageReq{ConversationID: "c1", Content: "   "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := relay.SendMessage(context.Background(), "alice", &tc.req)
			if !errs.IsCode(err, errs.ValidationErrorCode) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestSendMessageStoreFailureNoBroadcast(t *testing.T) {
	relay, store, mgr, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}
	store.saveErr = errs.ErrUpstream.WrapMsg("boom")

	_, bobSink, _ := addSession(mgr, "bob", "b1")

	_, err := relay.SendMessage(context.Background(), "alice", &SendMessageReq{
		ConversationID: "c1", Content: "hi",
	})
	if !errs.IsCode(err, errs.UpstreamErrorCode) {
		t.Fatalf("err = %v, want upstream error", err)
	}
	bobSink.expectNone(t, "new-message")
}

func TestSendMessageOfflineRecipientGoesToPushBoundary(t *testing.T) {
	relay, store, mgr, _, offline := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}

	addSession(mgr, "alice", "a1")
	// bob has no session

	if _, err := relay.SendMessage(context.Background(), "alice", &SendMessageReq{
		ConversationID: "c1", Content: "hi",
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if got := offline.countFor("bob"); got != 1 {
		t.Fatalf("offline envelopes for bob = %d, want 1", got)
	}
}

func TestMarkDeliveredAdvancesCursorAndNotifiesSender(t *testing.T) {
	relay, store, mgr, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}
	created := time.Now().Add(-time.Minute)
	store.messages["m1"] = testMessage("m1", "c1", "alice", created)

	_, aliceSink, _ := addSession(mgr, "alice", "a1")

	if err := relay.MarkDelivered(context.Background(), "bob", "m1"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if got := store.deliveredAt("c1", "bob"); !got.Equal(created) {
		t.Fatalf("delivered cursor = %v, want %v", got, created)
	}
	evs := aliceSink.waitFor(t, "delivered", 1)
	if evs[0].Data["messageId"] != "m1" || evs[0].Data["by"] != "bob" {
		t.Fatalf("delivered event = %v", evs[0].Data)
	}
}

func TestMarkDeliveredCursorIsMonotonic(t *testing.T) {
	relay, store, _, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}
	late := time.Now()
	early := late.Add(-time.Hour)
	store.messages["m-late"] = testMessage("m-late", "c1", "alice", late)
	store.messages["m-early"] = testMessage("m-early", "c1", "alice", early)

	ctx := context.Background()
	if err := relay.MarkDelivered(ctx, "bob", "m-late"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	// out-of-order receipt for the older message must not move the cursor back
	if err := relay.MarkDelivered(ctx, "bob", "m-early"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if got := store.deliveredAt("c1", "bob"); !got.Equal(late) {
		t.Fatalf("cursor regressed to %v, want %v", got, late)
	}
}

func TestMarkDeliveredUnknownMessageIsSilent(t *testing.T) {
	relay, _, mgr, _, _ := newRelayFixture(t)
	_, aliceSink, _ := addSession(mgr, "alice", "a1")

	if err := relay.MarkDelivered(context.Background(), "bob", "ghost"); err != nil {
		t.Fatalf("unknown message must no-op, got %v", err)
	}
	aliceSink.expectNone(t, "delivered")
}

func TestMarkDeliveredOfflineSenderQueuesReceipt(t *testing.T) {
	relay, store, _, mirror, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}
	store.messages["m1"] = testMessage("m1", "c1", "alice", time.Now())

	// alice (the sender) has no session
	if err := relay.MarkDelivered(context.Background(), "bob", "m1"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if len(mirror.queued["alice"]) != 1 {
		t.Fatalf("queued receipts = %d, want 1", len(mirror.queued["alice"]))
	}
}

func TestMarkReadUpToNotifiesOthersAndDefaultsToNow(t *testing.T) {
	relay, store, mgr, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob", "carol"}

	_, aliceSink, _ := addSession(mgr, "alice", "a1")
	_, bobSink, _ := addSession(mgr, "bob", "b1")
	_, carolSink, _ := addSession(mgr, "carol", "c1conn")

	before := time.Now()
	if err := relay.MarkReadUpTo(context.Background(), "bob", &ReadUpToReq{ConversationID: "c1"}); err != nil {
		t.Fatalf("MarkReadUpTo: %v", err)
	}
	if got := store.readAt("c1", "bob"); got.Before(before) {
		t.Fatalf("read cursor %v not defaulted to now", got)
	}
	aliceSink.waitFor(t, "read_up_to", 1)
	carolSink.waitFor(t, "read_up_to", 1)
	bobSink.expectNone(t, "read_up_to")
}

func TestMarkReadUpToCursorIsMonotonic(t *testing.T) {
	relay, store, _, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}

	ctx := context.Background()
	late := time.Now()
	if err := relay.MarkReadUpTo(ctx, "bob", &ReadUpToReq{ConversationID: "c1", At: late.UnixMilli()}); err != nil {
		t.Fatalf("MarkReadUpTo: %v", err)
	}
	if err := relay.MarkReadUpTo(ctx, "bob", &ReadUpToReq{ConversationID: "c1", At: late.Add(-time.Hour).UnixMilli()}); err != nil {
		t.Fatalf("MarkReadUpTo: %v", err)
	}
	if got := store.readAt("c1", "bob"); got.UnixMilli() != late.UnixMilli() {
		t.Fatalf("cursor regressed to %v, want %v", got, late)
	}
}

func TestMarkReadEchoesAck(t *testing.T) {
	relay, store, mgr, _, _ := newRelayFixture(t)
	store.participants["c1"] = []string{"alice", "bob"}
	_, bobSink, _ := addSession(mgr, "bob", "b1")

	if err := relay.MarkRead(context.Background(), "bob", &MarkReadReq{
		ConversationID: "c1", MessageIDs: []string{"m1", "m2"},
	}); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(store.readMarks) != 1 {
		t.Fatalf("store not called")
	}
	evs := bobSink.waitFor(t, "messages-read", 1)
	if evs[0].Data["conversationId"] != "c1" {
		t.Fatalf("ack = %v", evs[0].Data)
	}
}
