package net

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options sizes the per-session queues and limits.
type Options struct {
	ReliableQueue  int
	EphemeralQueue int
	IntentQueue    int
	MsgsPerSecond  int
	WriteTimeout   time.Duration
}

// Server owns the listening socket and the websocket upgrade path. New
// sessions and their decoded submessages reach the tick loop only through
// the NewSessions and Intents channels.
type Server struct {
	ln       net.Listener
	httpSrv  *http.Server
	upgrader websocket.Upgrader

	nextID   atomic.Uint64
	newConns chan *Session
	intents  chan Inbound

	opts    Options
	log     *zap.Logger
	closeCh chan struct{}
}

func NewServer(bindAddr, path string, opts Options, log *zap.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		newConns: make(chan *Session, 64),
		intents:  make(chan Inbound, opts.IntentQueue),
		opts:     opts,
		log:      log,
		closeCh:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, s.handleUpgrade)
	s.httpSrv = &http.Server{Handler: mux}
	return s, nil
}

// Serve runs the HTTP accept loop. Call in its own goroutine.
func (s *Server) Serve() {
	if err := s.httpSrv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		select {
		case <-s.closeCh:
		default:
			s.log.Error("listener failed", zap.Error(err))
		}
	}
}

func (s *Server) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}

	id := s.nextID.Add(1)
	sess := NewSession(conn, id, s.opts.ReliableQueue, s.opts.EphemeralQueue, s.opts.MsgsPerSecond, s.opts.WriteTimeout, s.log)
	sess.Start(s.intents)

	s.log.Info("client connected", zap.Uint64("session", id), zap.String("ip", r.RemoteAddr))

	select {
	case s.newConns <- sess:
	default:
		s.log.Warn("connect queue full, rejecting connection")
		sess.Close()
	}
}

// NewSessions returns the channel of freshly connected sessions, drained by
// the tick loop.
func (s *Server) NewSessions() <-chan *Session {
	return s.newConns
}

// Intents returns the inbound intent queue: many session producers, one
// tick-loop consumer.
func (s *Server) Intents() <-chan Inbound {
	return s.intents
}

// Addr returns the listener's address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Shutdown stops accepting connections and closes the listener.
func (s *Server) Shutdown() {
	close(s.closeCh)
	s.httpSrv.Close()
}
