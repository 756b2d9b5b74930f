package world

import (
	"math/bits"
	"sort"

	"github.com/voxsync/server/internal/protocol"
)

const (
	// ChunkSize is the cell edge length of a chunk.
	ChunkSize = 16
	// ChunkCells is the total cell count (16×16×16).
	ChunkCells = protocol.ChunkCells
	// ChunkExtentCm is the chunk edge length in centimeters: 16 one-meter
	// cells. Sub-chunk offsets live in [0, ChunkExtentCm).
	ChunkExtentCm = ChunkSize * 100

	// EmptyVoxel is the sentinel id for an unoccupied cell.
	EmptyVoxel uint16 = 0
)

// ChunkPos is a chunk-space coordinate, the unique key of a chunk.
type ChunkPos struct {
	X, Y, Z int32
}

// CellIndex maps in-chunk cell coordinates to the linear wire index.
func CellIndex(x, y, z int) uint16 {
	return uint16(x + ChunkSize*y + ChunkSize*ChunkSize*z)
}

// editBatch is the edit list that produced one version step.
type editBatch struct {
	version uint32 // version the chunk reached by applying these edits
	edits   []protocol.VoxelEdit
}

// Chunk is one 16×16×16 voxel volume with a version counter and a bounded
// per-version edit history for delta replication. Accessed only from the
// tick goroutine — no locks.
type Chunk struct {
	Pos     ChunkPos
	Version uint32

	voxels    [ChunkCells]uint16
	occupancy [ChunkCells / 64]uint64

	pending []protocol.VoxelEdit
	history []editBatch // oldest first
}

func NewChunk(pos ChunkPos) *Chunk {
	return &Chunk{Pos: pos}
}

// Voxel returns the id stored at a cell index.
func (c *Chunk) Voxel(index uint16) uint16 {
	return c.voxels[index]
}

// Apply stages one edit: the cell is updated immediately and the edit is
// recorded for the version bump at the end of the tick. An edit carrying the
// destroyed flag clears the cell regardless of its voxel id.
func (c *Chunk) Apply(e protocol.VoxelEdit) {
	v := e.Voxel
	if e.Flags&protocol.VoxelFlagDestroyed != 0 {
		v = EmptyVoxel
	}
	c.voxels[e.Index] = v
	word, bit := e.Index/64, uint(e.Index%64)
	if v == EmptyVoxel {
		c.occupancy[word] &^= 1 << bit
	} else {
		c.occupancy[word] |= 1 << bit
	}
	c.pending = append(c.pending, e)
}

// Dirty reports whether edits were staged since the last Commit.
func (c *Chunk) Dirty() bool {
	return len(c.pending) > 0
}

// Commit seals the staged edits into one version step. The version advances
// exactly once no matter how many edits the tick applied; ticks without
// edits leave it untouched. History older than depth versions is discarded.
func (c *Chunk) Commit(depth int) bool {
	if len(c.pending) == 0 {
		return false
	}
	c.Version++
	c.history = append(c.history, editBatch{version: c.Version, edits: c.pending})
	c.pending = nil
	if depth >= 0 && len(c.history) > depth {
		c.history = c.history[len(c.history)-depth:]
	}
	return true
}

// EditsSince collapses the history after base into one edit list, last write
// per cell, ascending cell order. ok is false when the history no longer
// reaches back to base and the caller must fall back to a snapshot.
func (c *Chunk) EditsSince(base uint32) (edits []protocol.VoxelEdit, ok bool) {
	if base == c.Version {
		return nil, true
	}
	if base > c.Version || len(c.history) == 0 {
		return nil, false
	}
	if base < c.history[0].version-1 {
		return nil, false
	}
	latest := make(map[uint16]protocol.VoxelEdit)
	for _, b := range c.history {
		if b.version <= base {
			continue
		}
		for _, e := range b.edits {
			latest[e.Index] = e
		}
	}
	edits = make([]protocol.VoxelEdit, 0, len(latest))
	for _, e := range latest {
		edits = append(edits, e)
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].Index < edits[j].Index })
	return edits, true
}

// OccupiedCount returns the number of non-empty cells.
func (c *Chunk) OccupiedCount() int {
	n := 0
	for _, w := range c.occupancy {
		n += bits.OnesCount64(w)
	}
	return n
}

// Snapshot builds the full wire encoding of the chunk at its current version.
func (c *Chunk) Snapshot() protocol.ChunkSnapshot {
	m := protocol.ChunkSnapshot{
		Cx: c.Pos.X, Cy: c.Pos.Y, Cz: c.Pos.Z,
		Version: c.Version,
	}
	for i, w := range c.occupancy {
		for b := 0; b < 8; b++ {
			m.Occupancy[i*8+b] = byte(w >> (8 * b))
		}
	}
	m.Voxels = make([]uint16, 0, c.OccupiedCount())
	for i := 0; i < ChunkCells; i++ {
		if c.voxels[i] != EmptyVoxel {
			m.Voxels = append(m.Voxels, c.voxels[i])
		}
	}
	return m
}
