package world

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntegrateCarriesOffsetIntoChunk(t *testing.T) {
	p := Pose{
		Chunk:  ChunkPos{X: 0, Y: 0, Z: 0},
		Offset: [3]int16{1500, 0, 100},
		Vel:    [3]int16{400, 0, -400}, // cm/s
	}

	// One second: x = 1500+400 = 1900 → chunk+1, offset 300;
	// z = 100-400 = -300 → chunk-1, offset 1300.
	p.Integrate(time.Second)

	assert.Equal(t, int32(1), p.Chunk.X)
	assert.Equal(t, int16(300), p.Offset[0])
	assert.Equal(t, int32(-1), p.Chunk.Z)
	assert.Equal(t, int16(1300), p.Offset[2])

	// Offset invariant holds after integration.
	for _, o := range p.Offset {
		assert.GreaterOrEqual(t, o, int16(0))
		assert.Less(t, o, int16(ChunkExtentCm))
	}
}

func TestIntegrateAtRestIsIdentity(t *testing.T) {
	p := Pose{Chunk: ChunkPos{X: 2}, Offset: [3]int16{10, 20, 30}}
	assert.False(t, p.Moving())

	q := p
	q.Integrate(33 * time.Millisecond)
	assert.Equal(t, p, q)
}
