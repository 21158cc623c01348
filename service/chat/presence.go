package chat

import (
	"context"
	"sync"
	"time"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/service/storage"
)

// PresenceTracker derives online/offline status from the session registry.
// It owns nothing beyond lastSeen bookkeeping; the registry owns the sessions.
type PresenceTracker struct {
	mgr    *ConnManager
	mirror storage.Mirror // optional, nil disables the redis mirror
	ttl    time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

func NewPresenceTracker(mgr *ConnManager, mirror storage.Mirror, ttl time.Duration) *PresenceTracker {
	return &PresenceTracker{
		mgr:      mgr,
		mirror:   mirror,
		ttl:      ttl,
		lastSeen: make(map[string]time.Time),
	}
}

type presenceEvent struct {
	UserID     string `json:"userId"`
	Online     bool   `json:"online"`
	LastSeenAt int64  `json:"lastSeenAt,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// HandleConnect runs after the registry added the session. Only the user's
// first session flips the derived state and broadcasts the transition.
func (p *PresenceTracker) HandleConnect(ctx context.Context, userID string, first bool) {
	if !first {
		return
	}
	p.mgr.Broadcast(MarshalEvent(EvPresenceOnline, presenceEvent{
		UserID:    userID,
		Online:    true,
		Timestamp: nowMillis(),
	}))
	if p.mirror != nil {
		if err := p.mirror.SetOnline(ctx, userID, p.mgr.GwID(), p.ttl); err != nil {
			logger.Warnf("[presence] mirror online failed user=%s err=%v", userID, err)
		}
	}
}

// HandleDisconnect runs after the registry removed the session. Only the last
// session flips the state.
func (p *PresenceTracker) HandleDisconnect(ctx context.Context, userID string, last bool) {
	if !last {
		return
	}
	now := time.Now()
	p.mu.Lock()
	p.lastSeen[userID] = now
	p.mu.Unlock()

	p.mgr.Broadcast(MarshalEvent(EvPresenceOffline, presenceEvent{
		UserID:     userID,
		Online:     false,
		LastSeenAt: now.UnixMilli(),
		Timestamp:  nowMillis(),
	}))
	if p.mirror != nil {
		if err := p.mirror.SetOffline(ctx, userID); err != nil {
			logger.Warnf("[presence] mirror offline failed user=%s err=%v", userID, err)
		}
	}
}

// SendInitialPresence replays every currently-online peer to the new
// connection so a late joiner never has to poll for state it missed.
func (p *PresenceTracker) SendInitialPresence(connID, selfID string) {
	now := nowMillis()
	for _, user := range p.mgr.OnlineUsers() {
		if user == selfID {
			continue
		}
		p.mgr.SendToConn(connID, MarshalEvent(EvPresenceOnline, presenceEvent{
			UserID:    user,
			Online:    true,
			Timestamp: now,
		}))
	}
}

// CatchupDelivered re-sends delivery confirmations queued while every session
// of the user was offline. At-least-once: the client tolerates duplicates.
func (p *PresenceTracker) CatchupDelivered(ctx context.Context, userID string) {
	if p.mirror == nil {
		return
	}
	frames, err := p.mirror.DrainDelivered(ctx, userID)
	if err != nil {
		logger.Warnf("[presence] delivered catchup failed user=%s err=%v", userID, err)
		return
	}
	for _, f := range frames {
		p.mgr.SendToUser(userID, f)
	}
}

// LastSeen reports when the user's last session went away.
func (p *PresenceTracker) LastSeen(userID string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.lastSeen[userID]
	return t, ok
}
