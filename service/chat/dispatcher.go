package chat

import (
	"context"
	"strings"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/logger"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/safe"
)

// HandlerFunc processes one inbound event for one session.
type HandlerFunc func(ctx context.Context, sess *Session, data map[string]any) error

// Dispatcher routes normalized events to handlers. Each dispatch is isolated:
// a panic or error inside one handler surfaces as a scoped error event on the
// originating connection and never terminates it or touches other handlers.
type Dispatcher struct {
	mgr      *ConnManager
	handlers map[EventType]HandlerFunc
}

func NewDispatcher(mgr *ConnManager) *Dispatcher {
	return &Dispatcher{
		mgr:      mgr,
		handlers: make(map[EventType]HandlerFunc),
	}
}

func (d *Dispatcher) Register(t EventType, h HandlerFunc) {
	d.handlers[t] = h
}

type errorEvent struct {
	Event   string `json:"event"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// Dispatch runs the handler for ev. Unknown events are ignored, not rejected,
// so newer clients keep working against older gateways.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *Session, ev *Event) {
	h, ok := d.handlers[ev.Type]
	if !ok {
		logger.Debug("[dispatch] no handler, ignoring event " + string(ev.Type))
		return
	}

	err, recovered := safe.Run(func() error { return h(ctx, sess, ev.Data) })
	if recovered != nil {
		err = errs.ErrPanic(recovered)
	}
	if err == nil {
		return
	}

	logger.Warnf("[dispatch] handler failed event=%s user=%s conn=%s err=%v",
		ev.Type, sess.UserID, sess.ConnID, err)
	d.mgr.SendToConn(sess.ConnID, MarshalEvent(errorEventFor(ev.Type), errorEvent{
		Event:   string(ev.Type),
		Code:    errs.CodeOf(err),
		Message: shortMessage(err),
	}))
}

// call events get their own scoped error channel.
func errorEventFor(t EventType) EventType {
	if strings.HasPrefix(string(t), "call") {
		return EvCallError
	}
	return EvError
}

func shortMessage(err error) string {
	msg := err.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
