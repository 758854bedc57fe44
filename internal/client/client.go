// Package client implements a relay participant: it joins with a display
// name, sends audio and text, and reports everything the relay delivers
// through callbacks.
package client

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/schollz/logger"

	"github.com/omochice/voice-relay-chat/pkg/protocol"
)

// ErrNotConnected is returned when sending on a session that is not open.
var ErrNotConnected = errors.New("not connected to server")

// Config holds session options.
type Config struct {
	Transport Transport
	// DialTimeout bounds connection setup. Zero means no timeout.
	DialTimeout time.Duration
	// MaxFieldSize bounds a declared field length. Zero disables the limit.
	MaxFieldSize uint32
}

// DefaultConfig returns default session options.
func DefaultConfig() Config {
	return Config{
		Transport:    TransportTCP,
		DialTimeout:  10 * time.Second,
		MaxFieldSize: protocol.DefaultMaxFieldSize,
	}
}

// Handlers receive what the relay delivers. They run on the receive
// goroutine, one at a time, and may call any Session method.
type Handlers struct {
	OnAudio  func(sender string, wav []byte)
	OnText   func(sender, text string)
	OnRoster func(users []string)
	// OnDisconnect is called exactly once when the receive loop ends. err is
	// nil after Disconnect, matches protocol.ErrConnectionClosed when the
	// relay closed the stream, and describes the failure otherwise.
	OnDisconnect func(err error)
}

// Session is one participant's connection to the relay.
type Session struct {
	address  string
	username string
	cfg      Config
	handlers Handlers

	mu         sync.RWMutex
	conn       Connection
	connecting bool
	closed     bool
	roster     []string

	wmu      sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a session. Nothing is dialed until Connect.
func New(address, username string, cfg Config, handlers Handlers) *Session {
	return &Session{
		address:  address,
		username: username,
		cfg:      cfg,
		handlers: handlers,
		done:     make(chan struct{}),
	}
}

// Connect dials the relay, sends the display name and starts receiving.
// The session counts as open right away; the first roster confirms the join.
// The dial runs without holding the session lock, so Disconnect during a
// slow dial ends the session and makes Connect fail.
func (s *Session) Connect() error {
	s.mu.Lock()
	switch {
	case s.conn != nil:
		s.mu.Unlock()
		return errors.New("already connected")
	case s.connecting:
		s.mu.Unlock()
		return errors.New("already connecting")
	case s.closed:
		s.mu.Unlock()
		return errors.New("session is closed")
	}
	s.connecting = true
	s.mu.Unlock()

	conn, err := s.open()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.connecting = false
	if err != nil {
		return err
	}
	if s.closed {
		conn.Close()
		return errors.New("session is closed")
	}
	s.conn = conn

	logger.Debugf("Connected to %s as %s over %s", s.address, s.username, s.transport())
	go s.receive(conn)
	return nil
}

func (s *Session) open() (Connection, error) {
	conn, err := dial(s.cfg.Transport, s.address, s.cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	if err := protocol.WriteHandshake(conn, s.username); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to join: %w", err)
	}
	return conn, nil
}

// Username returns the display name sent in the handshake.
func (s *Session) Username() string {
	return s.username
}

// IsConnected reports whether the session is open.
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil && !s.closed
}

// Roster returns the most recent presence list from the relay.
func (s *Session) Roster() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roster)
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// SendAudio sends a WAV clip to every other participant.
func (s *Session) SendAudio(wav []byte) error {
	return s.send(protocol.NewAudio("", wav))
}

// SendText sends a chat message to every other participant.
func (s *Session) SendText(text string) error {
	return s.send(protocol.NewText("", text))
}

func (s *Session) send(msg protocol.Message) error {
	s.mu.RLock()
	conn, closed := s.conn, s.closed
	s.mu.RUnlock()
	if conn == nil || closed {
		return ErrNotConnected
	}

	frame, err := msg.Encode(protocol.ClientToServer)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	n, err := conn.Write(frame)
	if err == nil && n < len(frame) {
		err = fmt.Errorf("wrote %d of %d bytes", n, len(frame))
	}
	if err != nil {
		return fmt.Errorf("failed to send message: %w: %w", protocol.ErrIO, err)
	}
	return nil
}

// Disconnect closes the session. It is idempotent and does not wait for
// the receive loop, so it is safe to call from a handler.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.finish()
		return
	}
	if err := conn.Close(); err != nil {
		logger.Debugf("Failed to close connection: %v", err)
	}
}

func (s *Session) receive(conn Connection) {
	reader := protocol.NewReader(conn, s.cfg.MaxFieldSize)

	var err error
	for {
		var msg protocol.Message
		msg, err = reader.ReadMessage(protocol.ServerToClient)
		if err != nil {
			break
		}
		s.deliver(msg)
	}

	s.mu.Lock()
	local := s.closed
	s.closed = true
	s.mu.Unlock()
	conn.Close()

	if local {
		err = nil
	} else if protocol.IsClosed(err) {
		logger.Debugf("Server closed the connection")
	} else {
		logger.Warnf("Connection to %s lost: %v", s.address, err)
	}

	if s.handlers.OnDisconnect != nil {
		s.handlers.OnDisconnect(err)
	}
	s.finish()
}

func (s *Session) deliver(msg protocol.Message) {
	switch msg.Type {
	case protocol.TagAudio:
		logger.Debugf("Audio from %s (%d bytes)", msg.Sender, len(msg.Content))
		if s.handlers.OnAudio != nil {
			s.handlers.OnAudio(msg.Sender, msg.Content)
		}
	case protocol.TagText:
		if s.handlers.OnText != nil {
			s.handlers.OnText(msg.Sender, msg.Text())
		}
	case protocol.TagUserList:
		users := msg.Roster()
		s.mu.Lock()
		s.roster = users
		s.mu.Unlock()
		if s.handlers.OnRoster != nil {
			s.handlers.OnRoster(slices.Clone(users))
		}
	}
}

func (s *Session) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *Session) transport() Transport {
	if s.cfg.Transport == "" {
		return TransportTCP
	}
	return s.cfg.Transport
}
