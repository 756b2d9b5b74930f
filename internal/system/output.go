package system

import (
	"time"

	coresys "github.com/voxsync/server/internal/core/system"
	"github.com/voxsync/server/internal/net"
)

// OutputSystem hands every session's buffered frame to its writer queues at
// the end of the tick. Enqueueing never blocks the loop: backpressure is
// resolved per message class inside Flush. Phase 3 (Output).
type OutputSystem struct {
	store *net.SessionStore
}

func NewOutputSystem(store *net.SessionStore) *OutputSystem {
	return &OutputSystem{store: store}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.store.ForEach(func(sess *net.Session) {
		sess.Flush()
	})
}
