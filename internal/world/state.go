package world

import "github.com/voxsync/server/internal/protocol"

// State is the authoritative world store: the entity and chunk registries.
// It is mutated only inside the tick goroutine's critical section; all
// connection I/O talks to it through queues, never directly.
type State struct {
	tick         uint32
	entities     map[uint32]*Entity
	chunks       map[ChunkPos]*Chunk
	dirty        map[ChunkPos]*Chunk
	nextEntityID uint32
	historyDepth int
}

// NewState creates an empty store. historyDepth bounds how many versions of
// per-chunk edit history are retained for delta construction.
func NewState(historyDepth int) *State {
	return &State{
		entities:     make(map[uint32]*Entity),
		chunks:       make(map[ChunkPos]*Chunk),
		dirty:        make(map[ChunkPos]*Chunk),
		historyDepth: historyDepth,
	}
}

// Tick returns the current tick number.
func (s *State) Tick() uint32 {
	return s.tick
}

// AdvanceTick increments the tick counter and returns the new value.
// Monotonic from 0 for the process lifetime, never reset.
func (s *State) AdvanceTick() uint32 {
	s.tick++
	return s.tick
}

// SpawnEntity creates a new entity with a fresh id. Ids are assigned once
// and not reused while the process lives.
func (s *State) SpawnEntity(pose Pose) *Entity {
	s.nextEntityID++
	e := &Entity{ID: s.nextEntityID, Pose: pose}
	s.entities[e.ID] = e
	return e
}

// RemoveEntity deletes an entity. Returns nil if the id is unknown.
func (s *State) RemoveEntity(id uint32) *Entity {
	e := s.entities[id]
	delete(s.entities, id)
	return e
}

// Entity looks up an entity by id.
func (s *State) Entity(id uint32) *Entity {
	return s.entities[id]
}

// EntityCount returns the number of live entities.
func (s *State) EntityCount() int {
	return len(s.entities)
}

// ForEachEntity visits every live entity.
func (s *State) ForEachEntity(fn func(*Entity)) {
	for _, e := range s.entities {
		fn(e)
	}
}

// Chunk looks up a chunk; nil when the key has never been written.
func (s *State) Chunk(pos ChunkPos) *Chunk {
	return s.chunks[pos]
}

// EnsureChunk returns the chunk at pos, creating an empty one on first use.
func (s *State) EnsureChunk(pos ChunkPos) *Chunk {
	c := s.chunks[pos]
	if c == nil {
		c = NewChunk(pos)
		s.chunks[pos] = c
	}
	return c
}

// ChunkCount returns the number of materialized chunks.
func (s *State) ChunkCount() int {
	return len(s.chunks)
}

// ForEachChunk visits every materialized chunk.
func (s *State) ForEachChunk(fn func(*Chunk)) {
	for _, c := range s.chunks {
		fn(c)
	}
}

// ApplyEdit stages one voxel edit; the chunk is created on demand and its
// version bump is deferred to CommitEdits at the end of the tick.
func (s *State) ApplyEdit(pos ChunkPos, e protocol.VoxelEdit) {
	c := s.EnsureChunk(pos)
	c.Apply(e)
	s.dirty[pos] = c
}

// CommitEdits seals all chunks edited this tick, advancing each version by
// exactly one. Returns the number of chunks that stepped.
func (s *State) CommitEdits() int {
	n := 0
	for pos, c := range s.dirty {
		if c.Commit(s.historyDepth) {
			n++
		}
		delete(s.dirty, pos)
	}
	return n
}
