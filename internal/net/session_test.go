package net

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSession(t *testing.T, reliableSize, ephemeralSize int) *Session {
	t.Helper()
	// No websocket conn: only the tick-side queueing paths run here.
	return NewSession(nil, 1, reliableSize, ephemeralSize, 0, time.Second, zap.NewNop())
}

func TestFlushEphemeralDropsOldestWhenFull(t *testing.T) {
	s := newTestSession(t, 4, 1)

	f1 := []byte{1}
	f2 := []byte{2}

	s.QueueFrame(f1, false)
	s.Flush()
	s.QueueFrame(f2, false)
	s.Flush() // queue full: f1 dropped, f2 kept

	require.False(t, s.IsClosed(), "ephemeral overflow must never disconnect")
	select {
	case got := <-s.ephemeral:
		assert.Equal(t, f2, got)
	default:
		t.Fatal("expected a queued ephemeral frame")
	}
	assert.Empty(t, s.ephemeral)
}

func TestFlushReliableOverflowDisconnects(t *testing.T) {
	s := newTestSession(t, 1, 4)

	s.QueueFrame([]byte{1}, true)
	s.Flush()
	require.False(t, s.IsClosed())

	s.QueueFrame([]byte{2}, true)
	s.Flush() // reliable queue full: delivery contract broken

	assert.True(t, s.IsClosed())
	assert.Equal(t, StateClosing, s.State())
}

func TestFlushWithoutFrameIsNoop(t *testing.T) {
	s := newTestSession(t, 1, 1)
	s.Flush()
	assert.Empty(t, s.reliable)
	assert.Empty(t, s.ephemeral)
}

func TestFlushConsumesBufferedFrame(t *testing.T) {
	s := newTestSession(t, 4, 4)
	s.QueueFrame([]byte{1}, true)
	s.Flush()
	s.Flush() // nothing new buffered; must not re-enqueue

	assert.Len(t, s.reliable, 1)
}

func TestFlushAfterCloseDiscards(t *testing.T) {
	s := newTestSession(t, 4, 4)
	s.Close()
	s.QueueFrame([]byte{1}, true)
	s.Flush()
	assert.Empty(t, s.reliable)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestSession(t, 1, 1)
	s.Close()
	s.Close()
	assert.True(t, s.IsClosed())
}

func TestSessionStateTransitions(t *testing.T) {
	s := newTestSession(t, 1, 1)
	assert.Equal(t, StateAwaitingHello, s.State())
	s.SetState(StateActive)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, "Active", s.State().String())
}
