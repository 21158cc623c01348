package chat

import (
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
)

// Transport is the minimal surface of *websocket.Conn the registry needs;
// tests substitute an in-memory sink.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one authenticated connection. Created only after auth succeeds;
// other components refer to it by user id, never by holding the struct.
type Session struct {
	ConnID      string
	UserID      string
	Device      string
	Remote      net.Addr
	ConnectedAt time.Time

	tr   Transport
	send chan []byte

	mu    sync.Mutex
	rooms map[string]struct{} // joined conversations, convenience only

	closeOnce sync.Once
	done      chan struct{}
}

// JoinRoom / LeaveRoom keep a coarse conversation set on the session. Nothing
// enforces membership; routing is by user id.
func (s *Session) JoinRoom(conversationID string) {
	s.mu.Lock()
	s.rooms[conversationID] = struct{}{}
	s.mu.Unlock()
}

func (s *Session) LeaveRoom(conversationID string) {
	s.mu.Lock()
	delete(s.rooms, conversationID)
	s.mu.Unlock()
}

func (s *Session) InRoom(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[conversationID]
	return ok
}

// enqueue drops the frame when the client cannot keep up instead of blocking
// the caller.
func (s *Session) enqueue(data []byte) {
	select {
	case s.send <- data:
	default:
		logger.Warnf("[conn] send queue full, dropped frame user=%s conn=%s", s.UserID, s.ConnID)
	}
}

// writeLoop is the single writer for the connection.
func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := writeFrame(s.tr, data, 5); err != nil {
				logger.Infof("[conn] write err user=%s conn=%s err=%v", s.UserID, s.ConnID, err)
				return
			}
		}
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.tr.Close()
	})
}

// ConnManager is the session registry: primary index by connection id,
// secondary index by user id. A user owns zero or more sessions.
type ConnManager struct {
	mu     sync.RWMutex
	byConn map[string]*Session
	byUser map[string]map[string]*Session

	gwID      string
	queueSize int
}

func NewConnManager(gwID string, queueSize int) *ConnManager {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &ConnManager{
		byConn:    make(map[string]*Session),
		byUser:    make(map[string]map[string]*Session),
		gwID:      gwID,
		queueSize: queueSize,
	}
}

func (m *ConnManager) GwID() string { return m.gwID }

// Add registers an authenticated session and starts its writer goroutine.
// Returns the session and whether it is the user's first live one.
func (m *ConnManager) Add(userID, connID, device string, remote net.Addr, tr Transport) (*Session, bool) {
	s := &Session{
		ConnID:      connID,
		UserID:      userID,
		Device:      device,
		Remote:      remote,
		ConnectedAt: time.Now(),
		tr:          tr,
		send:        make(chan []byte, m.queueSize),
		rooms:       make(map[string]struct{}),
		done:        make(chan struct{}),
	}

	m.mu.Lock()
	mm := m.byUser[userID]
	first := len(mm) == 0
	if mm == nil {
		mm = make(map[string]*Session)
		m.byUser[userID] = mm
	}
	mm[connID] = s
	m.byConn[connID] = s
	m.mu.Unlock()

	go s.writeLoop()
	return s, first
}

// RemoveByConn drops the session; returns it and whether it was the user's
// last one.
func (m *ConnManager) RemoveByConn(connID string) (*Session, bool) {
	m.mu.Lock()
	s, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	delete(m.byConn, connID)
	last := false
	if mm := m.byUser[s.UserID]; mm != nil {
		delete(mm, connID)
		if len(mm) == 0 {
			delete(m.byUser, s.UserID)
			last = true
		}
	}
	m.mu.Unlock()

	s.close()
	return s, last
}

func (m *ConnManager) Session(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byConn[connID]
	return s, ok
}

// ConnCount reports how many live sessions the user owns.
func (m *ConnManager) ConnCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID])
}

// SendToUser fans a frame out to every session of the user ("send to user"
// is "broadcast to the user group").
func (m *ConnManager) SendToUser(userID string, data []byte) {
	m.mu.RLock()
	mm := m.byUser[userID]
	sessions := make([]*Session, 0, len(mm))
	for _, s := range mm {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.enqueue(data)
	}
}

// SendToConn targets one connection.
func (m *ConnManager) SendToConn(connID string, data []byte) {
	m.mu.RLock()
	s, ok := m.byConn[connID]
	m.mu.RUnlock()
	if ok {
		s.enqueue(data)
	}
}

// Broadcast pushes a frame to every connected session.
func (m *ConnManager) Broadcast(data []byte) {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.byConn))
	for _, s := range m.byConn {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	for _, s := range sessions {
		s.enqueue(data)
	}
}

// OnlineUsers snapshots every user with at least one session.
func (m *ConnManager) OnlineUsers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byUser))
	for u := range m.byUser {
		out = append(out, u)
	}
	return out
}

func (m *ConnManager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.byConn))
	for _, s := range m.byConn {
		sessions = append(sessions, s)
	}
	m.byConn = map[string]*Session{}
	m.byUser = map[string]map[string]*Session{}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

func writeFrame(tr Transport, data []byte, deadlineSec int) error {
	if err := tr.SetWriteDeadline(time.Now().Add(time.Duration(deadlineSec) * time.Second)); err != nil {
		return err
	}
	return tr.WriteMessage(websocket.TextMessage, data)
}
