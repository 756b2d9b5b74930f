package world

// Area-of-interest queries. The distance rule is Chebyshev (chessboard)
// distance in chunk space: the visible region is the cube of edge 2r+1
// centered on the AOI center. Applied consistently to chunks and entities.

// chebyshev computes per-axis differences in int64: coordinates span the
// full i32 range, so an int32 subtraction could overflow.
func chebyshev(a, b ChunkPos) int64 {
	d := abs64(int64(a.X) - int64(b.X))
	if v := abs64(int64(a.Y) - int64(b.Y)); v > d {
		d = v
	}
	if v := abs64(int64(a.Z) - int64(b.Z)); v > d {
		d = v
	}
	return d
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// InRange reports whether pos lies within radius of center.
func InRange(center, pos ChunkPos, radius uint8) bool {
	return chebyshev(center, pos) <= int64(radius)
}

// ChunksInRange returns the materialized chunks within radius of center.
// The store is sparse, so this walks the registry rather than the cube.
func (s *State) ChunksInRange(center ChunkPos, radius uint8) []*Chunk {
	var out []*Chunk
	for pos, c := range s.chunks {
		if InRange(center, pos, radius) {
			out = append(out, c)
		}
	}
	return out
}

// EntitiesInRange returns every entity whose current chunk lies within
// radius of center.
func (s *State) EntitiesInRange(center ChunkPos, radius uint8) []*Entity {
	var out []*Entity
	for _, e := range s.entities {
		if InRange(center, e.Chunk, radius) {
			out = append(out, e)
		}
	}
	return out
}
