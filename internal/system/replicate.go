package system

import (
	"sort"
	"time"

	coresys "github.com/voxsync/server/internal/core/system"
	"github.com/voxsync/server/internal/net"
	"github.com/voxsync/server/internal/protocol"
	"github.com/voxsync/server/internal/world"
	"go.uber.org/zap"
)

// maxEntityEntries is the entry capacity of one ENTITIES_UPDATE submessage
// (u8 count on the wire).
const maxEntityEntries = 255

// ReplicateSystem builds at most one outbound frame per active connection
// each tick: pending control submessages, entity join/leave and masked pose
// diffs against the per-connection baselines, then chunk snapshots and
// version deltas against the per-connection sent-version records.
// Phase 2 (Replicate).
type ReplicateSystem struct {
	store *net.SessionStore
	ws    *world.State
	log   *zap.Logger
}

func NewReplicateSystem(store *net.SessionStore, ws *world.State, log *zap.Logger) *ReplicateSystem {
	return &ReplicateSystem{store: store, ws: ws, log: log}
}

func (s *ReplicateSystem) Phase() coresys.Phase { return coresys.PhaseReplicate }

func (s *ReplicateSystem) Update(_ time.Duration) {
	s.store.ForEach(func(sess *net.Session) {
		if sess.IsClosed() || sess.State() != net.StateActive {
			return
		}
		s.replicateSession(sess)
	})
}

// frameBuilder accumulates one tick's submessages for one connection and
// tracks whether any of them requires reliable delivery.
type frameBuilder struct {
	subs     []protocol.Submessage
	reliable bool
}

func (fb *frameBuilder) add(m protocol.Submessage, reliable bool) {
	fb.subs = append(fb.subs, m)
	fb.reliable = fb.reliable || reliable
}

func (fb *frameBuilder) room() int {
	return protocol.MaxSubmessages - len(fb.subs)
}

func (s *ReplicateSystem) replicateSession(sess *net.Session) {
	var fb frameBuilder

	// Control submessages produced by this tick's intent handlers (WELCOME)
	// go first and are always reliable.
	for _, m := range sess.Pending {
		fb.add(m, true)
	}
	sess.Pending = nil

	if sess.HasInterest {
		s.replicateEntities(sess, &fb)
		s.replicateChunks(sess, &fb)
	}

	if len(fb.subs) == 0 {
		return
	}

	frame, err := protocol.EncodeServerFrame(s.ws.Tick(), fb.subs)
	if err != nil {
		// Budget enforcement upstream makes this unreachable; a session is
		// not worth crashing the tick over regardless.
		s.log.Error("frame encode failed", zap.Uint64("session", sess.ID), zap.Error(err))
		return
	}
	sess.QueueFrame(frame, fb.reliable)
}

func (s *ReplicateSystem) replicateEntities(sess *net.Session, fb *frameBuilder) {
	visible := s.ws.EntitiesInRange(sess.AOICenter, sess.AOIRadius)
	sort.Slice(visible, func(i, j int) bool { return visible[i].ID < visible[j].ID })

	inRange := make(map[uint32]bool, len(visible))
	for _, e := range visible {
		inRange[e.ID] = true
	}

	// Leaves first: anything with a baseline that is no longer visible. The
	// ids are sorted so identical world states produce identical frames.
	var gone []uint32
	for id := range sess.Baselines {
		if !inRange[id] {
			gone = append(gone, id)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, id := range gone {
		if fb.room() == 0 {
			// The baseline survives, so the LEAVE is re-attempted next tick.
			return
		}
		delete(sess.Baselines, id)
		fb.add(protocol.Leave{EntityID: id}, true)
	}

	// Entries accumulate here and are emitted afterwards in ENTITIES_UPDATE
	// batches of at most 255, so accepting an entry may cost a frame slot the
	// builder has not seen yet. batchSlots tracks that deferred cost; an
	// entity that does not fit is skipped WITHOUT advancing its baseline and
	// goes out on a following tick instead.
	var entries []protocol.EntityUpdate
	batchSlots := 0
	accept := func(joins int) bool {
		needed := joins + batchesFor(len(entries)+1) - batchSlots
		if fb.room()-batchSlots < needed {
			return false
		}
		batchSlots = batchesFor(len(entries) + 1)
		return true
	}

	for _, e := range visible {
		base, known := sess.Baselines[e.ID]
		if !known {
			if !accept(1) {
				break
			}
			// JOIN precedes the entity's first (full-state) update.
			fb.add(protocol.Join{EntityID: e.ID}, true)
			entries = append(entries, fullUpdate(e))
			sess.Baselines[e.ID] = e.Pose
			continue
		}
		if u, changed := diffUpdate(e, base); changed {
			if !accept(0) {
				break
			}
			entries = append(entries, u)
			sess.Baselines[e.ID] = e.Pose
		}
	}

	for len(entries) > 0 {
		n := len(entries)
		if n > maxEntityEntries {
			n = maxEntityEntries
		}
		fb.add(protocol.EntitiesUpdate{Entities: entries[:n]}, false)
		entries = entries[n:]
	}
}

// batchesFor returns how many ENTITIES_UPDATE submessages n entries occupy.
func batchesFor(n int) int {
	return (n + maxEntityEntries - 1) / maxEntityEntries
}

// fullUpdate encodes every field: the receiver has no prior state to diff
// against.
func fullUpdate(e *world.Entity) protocol.EntityUpdate {
	return protocol.EntityUpdate{
		ID:   e.ID,
		Mask: protocol.MaskFull,
		Cx:   e.Chunk.X, Cy: e.Chunk.Y, Cz: e.Chunk.Z,
		Ox: e.Offset[0], Oy: e.Offset[1], Oz: e.Offset[2],
		Yaw: e.Yaw, Pitch: e.Pitch,
		Vx: e.Vel[0], Vy: e.Vel[1], Vz: e.Vel[2],
		State: e.State,
	}
}

// diffUpdate builds a masked update carrying only the field groups that
// changed against base. changed is false when nothing moved and the entity
// must be omitted from the frame entirely.
func diffUpdate(e *world.Entity, base world.Pose) (protocol.EntityUpdate, bool) {
	u := protocol.EntityUpdate{ID: e.ID}

	if e.Chunk != base.Chunk || e.Offset != base.Offset {
		u.Mask |= protocol.MaskPos
		if e.Chunk == base.Chunk {
			u.Mask |= protocol.MaskSameChunk
		} else {
			u.Cx, u.Cy, u.Cz = e.Chunk.X, e.Chunk.Y, e.Chunk.Z
		}
		u.Ox, u.Oy, u.Oz = e.Offset[0], e.Offset[1], e.Offset[2]
	}
	if e.Yaw != base.Yaw || e.Pitch != base.Pitch {
		u.Mask |= protocol.MaskOrient
		u.Yaw, u.Pitch = e.Yaw, e.Pitch
	}
	if e.Vel != base.Vel {
		u.Mask |= protocol.MaskVel
		u.Vx, u.Vy, u.Vz = e.Vel[0], e.Vel[1], e.Vel[2]
	}
	if e.State != base.State {
		u.Mask |= protocol.MaskState
		u.State = e.State
	}
	return u, u.Mask != 0
}

func (s *ReplicateSystem) replicateChunks(sess *net.Session, fb *frameBuilder) {
	chunks := s.ws.ChunksInRange(sess.AOICenter, sess.AOIRadius)
	sort.Slice(chunks, func(i, j int) bool {
		a, b := chunks[i].Pos, chunks[j].Pos
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})

	for _, c := range chunks {
		if fb.room() == 0 {
			// Frame full; the unrecorded chunks stay due and go out on the
			// following ticks.
			return
		}
		sent, known := sess.SentChunks[c.Pos]
		if known && sent == c.Version {
			continue
		}
		if !known {
			if c.Version == 0 && c.OccupiedCount() == 0 {
				// Never-edited empty chunk; nothing worth a snapshot.
				continue
			}
			fb.add(c.Snapshot(), true)
			sess.SentChunks[c.Pos] = c.Version
			continue
		}

		// The connection is behind: prefer a delta off the version it has,
		// falling back to a snapshot when the edit history no longer reaches
		// that far back.
		if edits, ok := c.EditsSince(sent); ok {
			fb.add(protocol.ChunkDelta{
				Cx: c.Pos.X, Cy: c.Pos.Y, Cz: c.Pos.Z,
				BaseVersion: sent,
				Edits:       edits,
			}, true)
		} else {
			fb.add(c.Snapshot(), true)
		}
		sess.SentChunks[c.Pos] = c.Version
	}
}
