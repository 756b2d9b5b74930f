package system

import (
	"fmt"

	"github.com/voxsync/server/internal/net"
	"github.com/voxsync/server/internal/protocol"
	"go.uber.org/zap"
)

// HandlerFunc applies one decoded submessage to the world on behalf of a
// session. Runs inside the tick's critical section.
type HandlerFunc func(sess *net.Session, msg protocol.Submessage)

type handlerEntry struct {
	fn            HandlerFunc
	allowedStates map[net.SessionState]bool
}

// Registry maps submessage kinds to intent handlers with state-based access
// control: a kind arriving in a state it is not registered for is a protocol
// violation, as is a kind with no handler at all (server→client tags echoed
// back, for instance).
type Registry struct {
	handlers map[byte]*handlerEntry
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[byte]*handlerEntry),
		log:      log,
	}
}

// Register maps a kind to a handler, restricted to the given session states.
func (reg *Registry) Register(kind byte, states []net.SessionState, fn HandlerFunc) {
	allowed := make(map[net.SessionState]bool, len(states))
	for _, s := range states {
		allowed[s] = true
	}
	reg.handlers[kind] = &handlerEntry{
		fn:            fn,
		allowedStates: allowed,
	}
}

// Dispatch validates the session state and calls the handler. A non-nil
// error means a protocol violation the caller must answer by closing the
// connection.
func (reg *Registry) Dispatch(sess *net.Session, msg protocol.Submessage) error {
	kind := msg.Kind()
	entry, ok := reg.handlers[kind]
	if !ok {
		return fmt.Errorf("no handler for submessage kind 0x%02X", kind)
	}

	state := sess.State()
	if !entry.allowedStates[state] {
		return fmt.Errorf("submessage kind 0x%02X not allowed in state %s", kind, state)
	}

	reg.safeCall(entry.fn, sess, msg, kind)
	return nil
}

// safeCall executes a handler with panic recovery so a single bad intent
// cannot take down the tick loop.
func (reg *Registry) safeCall(fn HandlerFunc, sess *net.Session, msg protocol.Submessage, kind byte) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("intent handler panic recovered",
				zap.Uint8("kind", kind),
				zap.Uint64("session", sess.ID),
				zap.Any("panic", rec),
			)
		}
	}()
	fn(sess, msg)
}
