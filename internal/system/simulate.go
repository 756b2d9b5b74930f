package system

import (
	"time"

	coresys "github.com/voxsync/server/internal/core/system"
	"github.com/voxsync/server/internal/world"
	"go.uber.org/zap"
)

// SimulateSystem advances the authoritative world: velocity integration for
// moving entities, then a single commit that turns the tick's staged voxel
// edits into at most one version bump per chunk. Phase 1 (Simulate).
type SimulateSystem struct {
	ws  *world.State
	log *zap.Logger
}

func NewSimulateSystem(ws *world.State, log *zap.Logger) *SimulateSystem {
	return &SimulateSystem{ws: ws, log: log}
}

func (s *SimulateSystem) Phase() coresys.Phase { return coresys.PhaseSimulate }

func (s *SimulateSystem) Update(dt time.Duration) {
	s.ws.ForEachEntity(func(e *world.Entity) {
		if e.Moving() {
			e.Integrate(dt)
		}
	})

	if n := s.ws.CommitEdits(); n > 0 {
		s.log.Debug("chunk versions advanced", zap.Int("chunks", n), zap.Uint32("tick", s.ws.Tick()))
	}
}
