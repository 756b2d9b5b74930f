package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingSystem struct {
	phase Phase
	order *[]Phase
}

func (s *recordingSystem) Phase() Phase { return s.phase }

func (s *recordingSystem) Update(time.Duration) {
	*s.order = append(*s.order, s.phase)
}

func TestRunnerExecutesInPhaseOrder(t *testing.T) {
	var order []Phase
	r := NewRunner()
	// Registered out of order on purpose.
	r.Register(&recordingSystem{phase: PhaseOutput, order: &order})
	r.Register(&recordingSystem{phase: PhaseIntents, order: &order})
	r.Register(&recordingSystem{phase: PhaseReplicate, order: &order})
	r.Register(&recordingSystem{phase: PhaseSimulate, order: &order})

	r.Tick(time.Millisecond)

	assert.Equal(t, []Phase{PhaseIntents, PhaseSimulate, PhaseReplicate, PhaseOutput}, order)
}
