package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/service/storage"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/ids"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/safe"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the connection gateway: it authenticates each websocket, wires
// it into the session registry, and pumps inbound events through the
// dispatcher.
type Server struct {
	mgr      *ConnManager
	presence *PresenceTracker
	relay    *Relay
	typing   *TypingCoordinator
	calls    *CallEngine
	verifier security.Verifier
	disp     *Dispatcher
}

// Deps carries the injected collaborators; nothing is resolved lazily.
type Deps struct {
	Store    MessageStore
	Verifier security.Verifier
	Mirror   storage.Mirror   // optional
	Offline  OfflinePublisher // optional

	GatewayID   string
	QueueSize   int
	PresenceTTL time.Duration
}

func NewServer(d Deps) *Server {
	mgr := NewConnManager(d.GatewayID, d.QueueSize)
	s := &Server{
		mgr:      mgr,
		presence: NewPresenceTracker(mgr, d.Mirror, d.PresenceTTL),
		relay:    NewRelay(d.Store, mgr, d.Mirror, d.Offline),
		typing:   NewTypingCoordinator(d.Store, mgr),
		calls:    NewCallEngine(mgr),
		verifier: d.Verifier,
		disp:     NewDispatcher(mgr),
	}
	s.registerHandlers()
	return s
}

func (s *Server) ConnMgr() *ConnManager      { return s.mgr }
func (s *Server) Presence() *PresenceTracker { return s.presence }
func (s *Server) Relay() *Relay              { return s.relay }
func (s *Server) Calls() *CallEngine         { return s.calls }
func (s *Server) Typing() *TypingCoordinator { return s.typing }
func (s *Server) Dispatcher() *Dispatcher    { return s.disp }

func (s *Server) Routes(r *gin.Engine) {
	r.GET("/ws", s.HandleWS)
}

type connectedEvent struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Timestamp    int64  `json:"timestamp"`
}

// HandleWS upgrades, authenticates, and runs the read loop. Auth failure
// closes the socket with an "unauthorized" reason before any state exists.
func (s *Server) HandleWS(c *gin.Context) {
	userID, authErr := s.authenticate(c.Request)

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade error: %v", err)
		return
	}

	if authErr != nil {
		logger.Infof("[ws] rejected connection from %s: %v", c.Request.RemoteAddr, authErr)
		deadline := time.Now().Add(2 * time.Second)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unauthorized"), deadline)
		_ = ws.Close()
		return
	}

	connID := ids.GenerateString()
	device := c.Request.URL.Query().Get("device")
	sess, first := s.mgr.Add(userID, connID, device, remoteAddr(ws), ws)
	logger.Infof("[ws] connected user=%s conn=%s device=%q first=%v", userID, connID, device, first)

	ctx := c.Request.Context()
	s.mgr.SendToConn(connID, MarshalEvent(EvConnected, connectedEvent{
		UserID:       userID,
		ConnectionID: connID,
		Timestamp:    nowMillis(),
	}))
	s.presence.HandleConnect(ctx, userID, first)
	s.presence.SendInitialPresence(connID, userID)
	safe.Go("delivered-catchup", func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.presence.CatchupDelivered(cctx, userID)
	})

	s.readLoop(ctx, sess, ws)

	// teardown: registry first, then the derived state. Calls belong to the
	// user, not the connection, so they end only with the last device.
	_, last := s.mgr.RemoveByConn(connID)
	s.presence.HandleDisconnect(context.Background(), userID, last)
	if last {
		s.calls.HandleUserDisconnect(userID)
	}
	logger.Infof("[ws] disconnected user=%s conn=%s last=%v", userID, connID, last)
}

func (s *Server) authenticate(r *http.Request) (string, error) {
	token := security.BearerFromRequest(r)
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return security.ResolveUserID(claims)
}

func (s *Server) readLoop(ctx context.Context, sess *Session, ws *websocket.Conn) {
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[ws] peer closed conn=%s err=%v", sess.ConnID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[ws] read timeout conn=%s err=%v", sess.ConnID, rerr)
			} else {
				logger.Infof("[ws] read err conn=%s err=%v", sess.ConnID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		ev, perr := ParseFrame(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[ws] bad frame conn=%s err=%v sample=%q", sess.ConnID, perr, sample)
			continue
		}

		// events from a single connection stay in arrival order
		s.disp.Dispatch(ctx, sess, ev)
	}
}

func remoteAddr(ws *websocket.Conn) net.Addr {
	if ws == nil {
		return nil
	}
	return ws.RemoteAddr()
}
