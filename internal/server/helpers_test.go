package server_test

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/voice-relay-chat/internal/chat"
	"github.com/omochice/voice-relay-chat/internal/server"
	"github.com/omochice/voice-relay-chat/pkg/protocol"
)

const waitTimeout = 2 * time.Second

func startServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv := server.New(cfg)
	require.NoError(t, srv.Listen())

	errChan := make(chan error, 1)
	go func() { errChan <- srv.Serve() }()
	t.Cleanup(func() {
		srv.Stop()
		select {
		case err := <-errChan:
			assert.ErrorIs(t, err, server.ErrServerClosed)
		case <-time.After(waitTimeout):
			t.Error("Serve did not return after Stop")
		}
	})
	return srv
}

// participant is a raw protocol peer used to observe exactly what the
// server puts on the wire.
type participant struct {
	name   string
	conn   io.ReadWriteCloser
	reader *protocol.Reader
	setDL  func(time.Time) error
}

func join(t *testing.T, addr, name string) *participant {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, protocol.WriteHandshake(conn, name))
	return &participant{name: name, conn: conn, reader: protocol.NewReader(conn, 0), setDL: conn.SetReadDeadline}
}

func joinWebSocket(t *testing.T, addr, name string) *participant {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	stream := &wsStream{conn: ws}
	t.Cleanup(func() { stream.Close() })
	require.NoError(t, protocol.WriteHandshake(stream, name))
	return &participant{name: name, conn: stream, reader: protocol.NewReader(stream, 0), setDL: ws.SetReadDeadline}
}

func (p *participant) send(t *testing.T, msg protocol.Message) {
	t.Helper()
	frame, err := msg.Encode(protocol.ClientToServer)
	require.NoError(t, err)
	_, err = p.conn.Write(frame)
	require.NoError(t, err)
}

func (p *participant) next(t *testing.T) protocol.Message {
	t.Helper()
	require.NoError(t, p.setDL(time.Now().Add(waitTimeout)))
	msg, err := p.reader.ReadMessage(protocol.ServerToClient)
	require.NoError(t, err, "%s: waiting for a frame", p.name)
	return msg
}

// nextContent skips roster updates and returns the next relayed message.
func (p *participant) nextContent(t *testing.T) protocol.Message {
	t.Helper()
	for {
		msg := p.next(t)
		if msg.Type != protocol.TagUserList {
			return msg
		}
	}
}

// waitRoster reads frames until a roster holding exactly want arrives.
func (p *participant) waitRoster(t *testing.T, want ...string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	var last []string
	for time.Now().Before(deadline) {
		require.NoError(t, p.setDL(deadline))
		msg, err := p.reader.ReadMessage(protocol.ServerToClient)
		require.NoError(t, err, "%s: waiting for roster %v, last %v", p.name, want, last)
		if msg.Type != protocol.TagUserList {
			continue
		}
		last = msg.Roster()
		if elementsMatch(want, last) {
			return
		}
	}
	t.Fatalf("%s: roster %v never arrived, last %v", p.name, want, last)
}

// expectClosed waits until the server closes the stream.
func (p *participant) expectClosed(t *testing.T) {
	t.Helper()
	require.NoError(t, p.setDL(time.Now().Add(waitTimeout)))
	for {
		_, err := p.reader.ReadMessage(protocol.ServerToClient)
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("%s: connection was not closed", p.name)
		}
		return
	}
}

func elementsMatch(a, b []string) bool {
	counts := make(map[string]int)
	for _, s := range a {
		counts[s]++
	}
	for _, s := range b {
		counts[s]--
	}
	for _, n := range counts {
		if n != 0 {
			return false
		}
	}
	return true
}

// wsStream reads gorilla WebSocket messages as one byte stream.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			_, r, err := s.conn.NextReader()
			if err != nil {
				return 0, err
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if errors.Is(err, io.EOF) {
			s.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}

// chunkConn never returns more than size bytes per Read.
type chunkConn struct {
	chat.Conn
	size int
}

func (c *chunkConn) Read(p []byte) (int, error) {
	if len(p) > c.size {
		p = p[:c.size]
	}
	return c.Conn.Read(p)
}
