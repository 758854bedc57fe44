// Package server implements the relay: it accepts participants over raw TCP
// or WebSocket on one port, keeps the registry of joined participants and
// fans every message out to the others.
package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/schollz/logger"

	"github.com/omochice/voice-relay-chat/internal/chat"
	"github.com/omochice/voice-relay-chat/internal/transport/tcp"
	"github.com/omochice/voice-relay-chat/internal/transport/ws"
	"github.com/omochice/voice-relay-chat/pkg/protocol"
)

// ErrServerClosed is returned by Serve and Start after Stop.
var ErrServerClosed = errors.New("server closed")

// Config holds relay configuration.
type Config struct {
	// Addr is the TCP address to listen on.
	Addr string
	// QueueSize is the number of frames buffered per participant.
	QueueSize int
	// MaxFieldSize bounds a declared field length. Zero disables the limit.
	MaxFieldSize uint32
	// HandshakeTimeout bounds the wait for the display name. Zero waits forever.
	HandshakeTimeout time.Duration
	// WebSocketPath is the only URI accepted for WebSocket upgrades.
	WebSocketPath string
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		Addr:          ":5555",
		QueueSize:     chat.DefaultQueueSize,
		MaxFieldSize:  protocol.DefaultMaxFieldSize,
		WebSocketPath: "/ws",
	}
}

// Server represents the relay server
type Server struct {
	cfg      Config
	hub      *chat.Hub
	listener net.Listener

	// mu guards listener and conns, not the registry.
	mu       sync.Mutex
	conns    map[io.Closer]struct{}
	rosterMu sync.Mutex

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Server instance
func New(cfg Config) *Server {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = chat.DefaultQueueSize
	}
	return &Server{
		cfg:   cfg,
		hub:   chat.NewHub(),
		conns: make(map[io.Closer]struct{}),
		quit:  make(chan struct{}),
	}
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Listen opens the listener without accepting connections yet.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		listener.Close()
		return ErrServerClosed
	default:
	}
	s.listener = listener

	logger.Infof("Relay server listening on %s (TCP and WebSocket %s)", listener.Addr(), s.cfg.WebSocketPath)
	return nil
}

// Serve accepts connections until Stop, running each one on its own goroutine.
func (s *Server) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("server is not listening")
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return ErrServerClosed
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			logger.Warnf("Failed to accept connection: %v", err)
			continue
		}

		if !s.track(conn) {
			conn.Close()
			continue
		}
		go func() {
			defer s.untrack(conn)
			s.handleConnection(conn)
		}()
	}
}

// Stop closes the listener and every connection, then waits for all
// connection goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		logger.Info("Relay server stopping")
	})
	s.wg.Wait()
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of participants that completed the handshake.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// Roster returns the display names of all joined participants.
func (s *Server) Roster() []string {
	return s.hub.Names()
}

// Members returns a snapshot of the registry.
func (s *Server) Members() []chat.Member {
	return s.hub.Members()
}

// HandleConn runs the full participant lifecycle on an established stream
// and returns once the participant is gone.
func (s *Server) HandleConn(conn chat.Conn) {
	if !s.track(conn) {
		conn.Close()
		return
	}
	defer s.untrack(conn)
	s.serve(conn)
}

func (s *Server) track(c io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.quit:
		return false
	default:
	}
	s.conns[c] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c io.Closer) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

// handleConnection sniffs the transport of a freshly accepted connection.
func (s *Server) handleConnection(conn net.Conn) {
	logger.Debugf("New connection from %s", conn.RemoteAddr())

	if s.cfg.HandshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	}

	proto, reader, err := detectProtocol(conn)
	if err != nil {
		logger.Debugf("Failed to peek connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	var c chat.Conn
	switch proto {
	case protocolHTTP:
		wc, err := ws.Upgrade(conn, reader, s.cfg.WebSocketPath)
		if err != nil {
			logger.Warnf("Rejected WebSocket from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		c = wc
	default:
		c = tcp.NewConnWithReader(conn, reader)
	}
	s.serve(c)
}
