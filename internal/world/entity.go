package world

import "time"

// Pose is the replicated kinematic state of an entity. It doubles as the
// per-connection "last sent" baseline record for delta encoding.
type Pose struct {
	Chunk  ChunkPos
	Offset [3]int16 // centimeters within the chunk, [0, ChunkExtentCm)
	Yaw    uint16   // 0–65535 → 0–360°
	Pitch  int16
	Vel    [3]int16 // cm/s; zero vector = at rest
	State  uint16   // flag bits (crouching, sprinting, …)
}

// Entity is one live object in the world. Owned exclusively by the State;
// created on connect, destroyed on disconnect.
type Entity struct {
	ID uint32
	Pose
}

// Moving reports whether the entity carries a non-zero velocity.
func (p *Pose) Moving() bool {
	return p.Vel[0] != 0 || p.Vel[1] != 0 || p.Vel[2] != 0
}

// Integrate advances the pose by vel·dt, carrying sub-chunk offset overflow
// into the chunk coordinate so the offset invariant holds.
func (p *Pose) Integrate(dt time.Duration) {
	ms := dt.Milliseconds()
	carry := func(off int16, vel int16, chunk *int32) int16 {
		pos := int64(off) + int64(vel)*ms/1000
		for pos < 0 {
			pos += ChunkExtentCm
			*chunk--
		}
		for pos >= ChunkExtentCm {
			pos -= ChunkExtentCm
			*chunk++
		}
		return int16(pos)
	}
	p.Offset[0] = carry(p.Offset[0], p.Vel[0], &p.Chunk.X)
	p.Offset[1] = carry(p.Offset[1], p.Vel[1], &p.Chunk.Y)
	p.Offset[2] = carry(p.Offset[2], p.Vel[2], &p.Chunk.Z)
}
