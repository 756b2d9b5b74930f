package system

import (
	"time"

	coresys "github.com/voxsync/server/internal/core/system"
	"github.com/voxsync/server/internal/data"
	"github.com/voxsync/server/internal/net"
	"github.com/voxsync/server/internal/protocol"
	"github.com/voxsync/server/internal/world"
	"go.uber.org/zap"
)

// Transport is the slice of the network server the intent system needs.
type Transport interface {
	NewSessions() <-chan *net.Session
	Intents() <-chan net.Inbound
}

// IntentSystem drains connection notices and decoded submessages at the
// start of each tick and applies them to the world state in arrival order.
// Phase 0 (Intents).
type IntentSystem struct {
	transport Transport
	store     *net.SessionStore
	registry  *Registry
	ws        *world.State
	voxels    *data.VoxelTable

	tickRate  uint8
	maxRadius uint8
	spawn     world.Pose

	log *zap.Logger
}

func NewIntentSystem(
	transport Transport,
	store *net.SessionStore,
	ws *world.State,
	voxels *data.VoxelTable,
	tickRate uint8,
	maxRadius uint8,
	spawn world.Pose,
	log *zap.Logger,
) *IntentSystem {
	s := &IntentSystem{
		transport: transport,
		store:     store,
		registry:  NewRegistry(log),
		ws:        ws,
		voxels:    voxels,
		tickRate:  tickRate,
		maxRadius: maxRadius,
		spawn:     spawn,
		log:       log,
	}
	s.registerHandlers()
	return s
}

func (s *IntentSystem) Phase() coresys.Phase { return coresys.PhaseIntents }

func (s *IntentSystem) registerHandlers() {
	awaiting := []net.SessionState{net.StateAwaitingHello}
	active := []net.SessionState{net.StateActive}

	s.registry.Register(protocol.KindHello, awaiting, s.handleHello)
	s.registry.Register(protocol.KindSetInterest, active, s.handleSetInterest)
	s.registry.Register(protocol.KindClientPose, active, s.handlePose)
	s.registry.Register(protocol.KindClientEdit, active, s.handleEdit)
	s.registry.Register(protocol.KindChunkRequest, active, s.handleChunkRequest)
	s.registry.Register(protocol.KindChunkAck, active, s.handleChunkAck)
}

func (s *IntentSystem) Update(_ time.Duration) {
	// Accept new connections.
accept:
	for {
		select {
		case sess := <-s.transport.NewSessions():
			s.store.Add(sess)
		default:
			break accept
		}
	}

	// Tear down sessions the transport reported closed: the entity is
	// removed and all replication bookkeeping goes with the session.
	for id, sess := range s.store.Raw() {
		if !sess.IsClosed() {
			continue
		}
		if sess.EntityID != 0 {
			s.ws.RemoveEntity(sess.EntityID)
			s.log.Info("entity despawned", zap.Uint32("entity", sess.EntityID), zap.Uint64("session", id))
		}
		s.store.Remove(id)
	}

	// Apply the submessage intents queued since the previous tick. Only
	// what is already in the queue at this instant is drained, so a
	// flooding client cannot stall the tick.
	intents := s.transport.Intents()
	for n := len(intents); n > 0; n-- {
		in := <-intents
		sess := in.Session
		if sess.IsClosed() {
			continue
		}
		if err := s.registry.Dispatch(sess, in.Msg); err != nil {
			s.log.Warn("protocol violation, disconnecting",
				zap.Uint64("session", sess.ID),
				zap.Error(err),
			)
			sess.Close()
		}
	}
}

// handleHello performs the AwaitingHello→Active transition: the only place
// identity assignment and AOI initialization happen.
func (s *IntentSystem) handleHello(sess *net.Session, msg protocol.Submessage) {
	hello := msg.(protocol.Hello)
	if hello.Version != protocol.Version {
		s.log.Warn("protocol version mismatch, disconnecting",
			zap.Uint64("session", sess.ID),
			zap.Uint16("version", hello.Version),
		)
		sess.Close()
		return
	}

	e := s.ws.SpawnEntity(s.spawn)
	sess.EntityID = e.ID
	sess.SetState(net.StateActive)
	sess.Pending = append(sess.Pending, protocol.Welcome{
		EntityID:  e.ID,
		TickRate:  s.tickRate,
		MaxRadius: s.maxRadius,
	})
	s.log.Info("entity spawned", zap.Uint32("entity", e.ID), zap.Uint64("session", sess.ID))
}

func (s *IntentSystem) handleSetInterest(sess *net.Session, msg protocol.Submessage) {
	m := msg.(protocol.SetInterest)
	if m.Radius > s.maxRadius {
		// Rejected, not clamped: the client must notice its misconfiguration.
		s.log.Warn("interest radius beyond maximum, disconnecting",
			zap.Uint64("session", sess.ID),
			zap.Uint8("radius", m.Radius),
			zap.Uint8("max", s.maxRadius),
		)
		sess.Close()
		return
	}
	sess.AOICenter = world.ChunkPos{X: m.Cx, Y: m.Cy, Z: m.Cz}
	sess.AOIRadius = m.Radius
	sess.HasInterest = true
}

func (s *IntentSystem) handlePose(sess *net.Session, msg protocol.Submessage) {
	m := msg.(protocol.ClientPose)
	if !offsetInChunk(m.Ox) || !offsetInChunk(m.Oy) || !offsetInChunk(m.Oz) {
		s.log.Warn("pose offset outside chunk extent, disconnecting",
			zap.Uint64("session", sess.ID),
		)
		sess.Close()
		return
	}
	e := s.ws.Entity(sess.EntityID)
	if e == nil {
		return // already despawned this tick; discard
	}
	e.Pose = world.Pose{
		Chunk:  world.ChunkPos{X: m.Cx, Y: m.Cy, Z: m.Cz},
		Offset: [3]int16{m.Ox, m.Oy, m.Oz},
		Yaw:    m.Yaw,
		Pitch:  m.Pitch,
		Vel:    [3]int16{m.Vx, m.Vy, m.Vz},
		State:  m.State,
	}
}

func (s *IntentSystem) handleEdit(sess *net.Session, msg protocol.Submessage) {
	m := msg.(protocol.ClientEdit)
	if s.voxels != nil && !s.voxels.Known(m.Edit.Voxel) {
		s.log.Debug("edit with unknown voxel id discarded",
			zap.Uint64("session", sess.ID),
			zap.Uint16("voxel", m.Edit.Voxel),
		)
		return
	}
	s.ws.ApplyEdit(world.ChunkPos{X: m.Cx, Y: m.Cy, Z: m.Cz}, m.Edit)
}

// handleChunkRequest forgets the recorded version so the next replication
// pass re-sends a full snapshot at the chunk's current version.
func (s *IntentSystem) handleChunkRequest(sess *net.Session, msg protocol.Submessage) {
	m := msg.(protocol.ChunkRequest)
	delete(sess.SentChunks, world.ChunkPos{X: m.Cx, Y: m.Cy, Z: m.Cz})
}

func (s *IntentSystem) handleChunkAck(sess *net.Session, msg protocol.Submessage) {
	m := msg.(protocol.ChunkAck)
	pos := world.ChunkPos{X: m.Cx, Y: m.Cy, Z: m.Cz}
	c := s.ws.Chunk(pos)
	if c == nil || m.Version > c.Version {
		return // ack ahead of the authoritative version; discard
	}
	if prev, ok := sess.AckedChunks[pos]; ok && m.Version < prev {
		return
	}
	sess.AckedChunks[pos] = m.Version
}

func offsetInChunk(v int16) bool {
	return v >= 0 && v < world.ChunkExtentCm
}
