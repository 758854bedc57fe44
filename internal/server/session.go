package server

import (
	"time"

	"github.com/schollz/logger"

	"github.com/omochice/voice-relay-chat/internal/chat"
	"github.com/omochice/voice-relay-chat/pkg/protocol"
)

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// serve drives one connection through handshake, dispatch and cleanup.
func (s *Server) serve(conn chat.Conn) {
	reader := protocol.NewReader(conn, s.cfg.MaxFieldSize)

	name, err := s.handshake(conn, reader)
	if err != nil {
		logger.Warnf("Handshake with %s failed: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	client := chat.NewClient(conn, s.cfg.QueueSize)
	client.Username = name

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := client.WriteLoop(); err != nil {
			logger.Debugf("Failed to send to %s: %v", name, err)
		}
	}()

	if err := s.hub.Register(client); err != nil {
		logger.Errorf("Failed to register %s: %v", name, err)
		client.Close()
		<-writerDone
		return
	}
	logger.Infof("%s joined from %s (%s)", name, client.RemoteAddr, client.ID)
	s.broadcastRoster()

	err = s.dispatch(client, reader)
	s.cleanup(client, err)
	<-writerDone
}

func (s *Server) handshake(conn chat.Conn, reader *protocol.Reader) (string, error) {
	if d, ok := conn.(readDeadliner); ok && s.cfg.HandshakeTimeout > 0 {
		_ = d.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
		defer d.SetReadDeadline(time.Time{})
	}
	return reader.ReadHandshake()
}

// dispatch reads frames until the stream fails and relays each one. It
// always returns a non-nil error describing why the connection ended.
func (s *Server) dispatch(client *chat.Client, reader *protocol.Reader) error {
	for {
		msg, err := reader.ReadMessage(protocol.ClientToServer)
		if err != nil {
			return err
		}

		switch msg.Type {
		case protocol.TagAudio:
			logger.Debugf("Audio from %s (%d bytes)", client.Username, len(msg.Content))
		case protocol.TagText:
			logger.Debugf("Message from %s: %s", client.Username, msg.Text())
		}

		msg.Sender = client.Username
		s.relay(client, msg)
	}
}

// cleanup is the terminal state of a joined connection. Unregister decides
// which caller announces the departure.
func (s *Server) cleanup(client *chat.Client, cause error) {
	if protocol.IsClosed(cause) {
		logger.Debugf("%s closed the connection", client.Username)
	} else {
		logger.Warnf("Dropping %s: %v", client.Username, cause)
	}

	removed := s.hub.Unregister(client)
	client.Close()
	if removed {
		logger.Infof("%s left", client.Username)
		s.broadcastRoster()
	}
}
