package net

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/voxsync/server/internal/protocol"
	"github.com/voxsync/server/internal/world"
	"go.uber.org/zap"
)

// SessionState is the connection's protocol phase.
type SessionState int32

const (
	StateAwaitingHello SessionState = iota // transport up, no valid HELLO yet
	StateActive                            // HELLO accepted, entity assigned
	StateClosing                           // terminal
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingHello:
		return "AwaitingHello"
	case StateActive:
		return "Active"
	case StateClosing:
		return "Closing"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// Inbound is one decoded client submessage tagged with its origin session,
// queued as an intent for the tick loop.
type Inbound struct {
	Session *Session
	Msg     protocol.Submessage
}

// Session is one client connection. Network I/O runs in dedicated
// goroutines; the replication bookkeeping fields below the queue handles are
// touched only by the tick goroutine.
type Session struct {
	ID   uint64
	conn *websocket.Conn

	state atomic.Int32

	// Outbound frame queues, one per message class. The tick loop enqueues
	// without ever blocking; the writeLoop goroutine drains, reliable first.
	reliable  chan []byte
	ephemeral chan []byte

	// Frame buffered by the replication pass, handed to the queues once per
	// tick by Flush (tick goroutine only).
	outFrame    []byte
	outReliable bool

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second inbound message limiter (readLoop goroutine only).
	msgPerSec  int
	msgCount   int
	msgResetAt int64

	writeTimeout time.Duration

	// --- Tick-goroutine-only replication bookkeeping ---

	// EntityID is the id of the entity this connection controls; assigned on
	// the AwaitingHello→Active transition, 0 before that.
	EntityID uint32

	AOICenter   world.ChunkPos
	AOIRadius   uint8
	HasInterest bool

	// Baselines holds the last-sent pose per visible entity, the reference
	// for field-level change masks.
	Baselines map[uint32]world.Pose

	// SentChunks records the chunk version last encoded for this connection;
	// AckedChunks the version the client confirmed applying.
	SentChunks  map[world.ChunkPos]uint32
	AckedChunks map[world.ChunkPos]uint32

	// Pending holds control submessages (WELCOME) produced by intent
	// handlers, consumed into the next frame by the replication pass.
	Pending []protocol.Submessage

	log *zap.Logger
}

func NewSession(conn *websocket.Conn, id uint64, reliableSize, ephemeralSize, msgPerSec int, writeTimeout time.Duration, log *zap.Logger) *Session {
	s := &Session{
		ID:           id,
		conn:         conn,
		reliable:     make(chan []byte, reliableSize),
		ephemeral:    make(chan []byte, ephemeralSize),
		closeCh:      make(chan struct{}),
		msgPerSec:    msgPerSec,
		writeTimeout: writeTimeout,
		Baselines:    make(map[uint32]world.Pose),
		SentChunks:   make(map[world.ChunkPos]uint32),
		AckedChunks:  make(map[world.ChunkPos]uint32),
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(StateAwaitingHello))
	return s
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) SetState(st SessionState) {
	s.state.Store(int32(st))
}

// Start launches the reader and writer goroutines. Decoded submessages are
// pushed onto intents; the push may block the reader, never the tick loop.
func (s *Session) Start(intents chan<- Inbound) {
	go s.readLoop(intents)
	go s.writeLoop()
}

// QueueFrame buffers the single frame built for this session this tick.
// Called by the replication pass (tick goroutine only).
func (s *Session) QueueFrame(frame []byte, reliable bool) {
	s.outFrame = frame
	s.outReliable = reliable
}

// Buffered returns the frame staged for this tick, if any, and whether it
// requires reliable delivery. Tick goroutine only.
func (s *Session) Buffered() ([]byte, bool) {
	return s.outFrame, s.outReliable
}

// Flush hands the buffered frame to the writer queues. Never blocks: a full
// ephemeral queue drops the oldest frame (a superseding update is one tick
// away); a full reliable queue breaks the delivery contract, so the
// connection is closed instead.
func (s *Session) Flush() {
	frame := s.outFrame
	if frame == nil {
		return
	}
	s.outFrame = nil

	if s.closed.Load() {
		return
	}
	if s.outReliable {
		select {
		case s.reliable <- frame:
		default:
			s.log.Warn("reliable queue full, disconnecting slow consumer")
			s.Close()
		}
		return
	}
	select {
	case s.ephemeral <- frame:
	default:
		select {
		case <-s.ephemeral:
		default:
		}
		select {
		case s.ephemeral <- frame:
		default:
		}
	}
}

// Close shuts the session down. Idempotent; safe from any goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(StateClosing)
		close(s.closeCh)
		if s.conn != nil {
			s.conn.Close()
		}
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop reads websocket messages, decodes each as exactly one client
// frame, and queues the contained submessages as intents. Any decode error
// or rate violation closes the connection.
func (s *Session) readLoop(intents chan<- Inbound) {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		if s.msgPerSec > 0 {
			now := time.Now().Unix()
			if now != s.msgResetAt {
				s.msgCount = 0
				s.msgResetAt = now
			}
			s.msgCount++
			if s.msgCount > s.msgPerSec {
				s.log.Warn("message rate exceeded, disconnecting", zap.Int("mps", s.msgCount))
				return
			}
		}

		_, subs, err := protocol.DecodeClientFrame(data)
		if err != nil {
			s.log.Warn("frame decode failed, disconnecting", zap.Error(err))
			return
		}

		for _, m := range subs {
			select {
			case intents <- Inbound{Session: s, Msg: m}:
			case <-s.closeCh:
				return
			}
		}
	}
}

// writeLoop drains the outbound queues to the websocket, reliable frames
// ahead of ephemeral ones.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.reliable:
			if !s.writeFrame(data) {
				return
			}
		default:
			select {
			case data := <-s.reliable:
				if !s.writeFrame(data) {
					return
				}
			case data := <-s.ephemeral:
				if !s.writeFrame(data) {
					return
				}
			case <-s.closeCh:
				return
			}
		}
	}
}

func (s *Session) writeFrame(data []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("write error", zap.Error(err))
		}
		return false
	}
	return true
}
