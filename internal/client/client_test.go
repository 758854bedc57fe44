package client_test

import (
	"bytes"
	"errors"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/voice-relay-chat/internal/client"
	"github.com/omochice/voice-relay-chat/internal/server"
	"github.com/omochice/voice-relay-chat/pkg/protocol"
)

const waitTimeout = 2 * time.Second

type chatLine struct {
	sender, text string
}

// events collects handler calls on channels so tests can wait on them.
type events struct {
	audio       chan chatLine
	text        chan chatLine
	rosters     chan []string
	disconnects chan error
}

func newEvents() *events {
	return &events{
		audio:       make(chan chatLine, 16),
		text:        make(chan chatLine, 16),
		rosters:     make(chan []string, 64),
		disconnects: make(chan error, 4),
	}
}

func (e *events) handlers() client.Handlers {
	return client.Handlers{
		OnAudio:      func(sender string, wav []byte) { e.audio <- chatLine{sender, string(wav)} },
		OnText:       func(sender, text string) { e.text <- chatLine{sender, text} },
		OnRoster:     func(users []string) { e.rosters <- users },
		OnDisconnect: func(err error) { e.disconnects <- err },
	}
}

func (e *events) waitRoster(t *testing.T, want ...string) {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case users := <-e.rosters:
			if slices.Equal(sorted(want), sorted(users)) {
				return
			}
		case <-timeout:
			t.Fatalf("roster %v never arrived", want)
		}
	}
}

func (e *events) nextText(t *testing.T) chatLine {
	t.Helper()
	select {
	case line := <-e.text:
		return line
	case <-time.After(waitTimeout):
		t.Fatal("Timeout waiting for message")
		return chatLine{}
	}
}

func (e *events) disconnected(t *testing.T) error {
	t.Helper()
	select {
	case err := <-e.disconnects:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("OnDisconnect was not called")
		return nil
	}
}

func sorted(s []string) []string {
	out := slices.Clone(s)
	slices.Sort(out)
	return out
}

func startRelay(t *testing.T) *server.Server {
	t.Helper()
	cfg := server.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := server.New(cfg)
	require.NoError(t, srv.Listen())
	go srv.Serve()
	t.Cleanup(srv.Stop)
	return srv
}

func connect(t *testing.T, addr, name string, transport client.Transport) (*client.Session, *events) {
	t.Helper()
	ev := newEvents()
	cfg := client.DefaultConfig()
	cfg.Transport = transport
	s := client.New(addr, name, cfg, ev.handlers())
	require.NoError(t, s.Connect())
	t.Cleanup(s.Disconnect)
	return s, ev
}

func TestSession_ConnectAndRoster(t *testing.T) {
	srv := startRelay(t)

	s, ev := connect(t, srv.Addr(), "alice", client.TransportTCP)
	assert.True(t, s.IsConnected())
	assert.Equal(t, "alice", s.Username())

	ev.waitRoster(t, "alice")
	assert.Equal(t, []string{"alice"}, s.Roster())
}

func TestSession_TextExchange(t *testing.T) {
	srv := startRelay(t)

	alice, aliceEv := connect(t, srv.Addr(), "alice", client.TransportTCP)
	aliceEv.waitRoster(t, "alice")
	bob, bobEv := connect(t, srv.Addr(), "bob", client.TransportTCP)
	bobEv.waitRoster(t, "alice", "bob")
	aliceEv.waitRoster(t, "alice", "bob")

	require.NoError(t, alice.SendText("hello"))
	assert.Equal(t, chatLine{"alice", "hello"}, bobEv.nextText(t))

	require.NoError(t, bob.SendText("hi"))
	assert.Equal(t, chatLine{"bob", "hi"}, aliceEv.nextText(t), "alice must not see her own message first")

	bob.Disconnect()
	aliceEv.waitRoster(t, "alice")
}

func TestSession_AudioOverWebSocket(t *testing.T) {
	srv := startRelay(t)

	alice, aliceEv := connect(t, srv.Addr(), "alice", client.TransportWebSocket)
	aliceEv.waitRoster(t, "alice")
	_, bobEv := connect(t, srv.Addr(), "bob", client.TransportTCP)
	aliceEv.waitRoster(t, "alice", "bob")
	bobEv.waitRoster(t, "alice", "bob")

	clip := bytes.Repeat([]byte("RIFF"), 50_000)
	require.NoError(t, alice.SendAudio(clip))

	select {
	case got := <-bobEv.audio:
		assert.Equal(t, "alice", got.sender)
		assert.Equal(t, string(clip), got.text)
	case <-time.After(waitTimeout):
		t.Fatal("Timeout waiting for audio")
	}
}

func TestSession_SendWithoutConnection(t *testing.T) {
	s := client.New("127.0.0.1:1", "testuser", client.DefaultConfig(), client.Handlers{})

	assert.ErrorIs(t, s.SendText("This should fail"), client.ErrNotConnected)
	assert.ErrorIs(t, s.SendAudio([]byte{1}), client.ErrNotConnected)
	assert.False(t, s.IsConnected())
}

func TestSession_ConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	s := client.New(addr, "testuser", client.DefaultConfig(), client.Handlers{})
	assert.Error(t, s.Connect())
	assert.False(t, s.IsConnected())
}

func TestSession_Disconnect(t *testing.T) {
	srv := startRelay(t)

	s, ev := connect(t, srv.Addr(), "alice", client.TransportTCP)
	ev.waitRoster(t, "alice")

	s.Disconnect()
	s.Disconnect()

	assert.NoError(t, ev.disconnected(t), "local disconnect reports no error")
	select {
	case <-s.Done():
	case <-time.After(waitTimeout):
		t.Fatal("Done was not closed")
	}
	select {
	case err := <-ev.disconnects:
		t.Fatalf("OnDisconnect called twice, second with %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	assert.False(t, s.IsConnected())
	assert.ErrorIs(t, s.SendText("late"), client.ErrNotConnected)
	assert.Error(t, s.Connect(), "a closed session cannot be reused")
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, waitTimeout, 10*time.Millisecond)
}

func TestSession_DisconnectBeforeConnect(t *testing.T) {
	s := client.New("127.0.0.1:1", "testuser", client.DefaultConfig(), client.Handlers{})
	s.Disconnect()

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestSession_DisconnectDuringSlowDial(t *testing.T) {
	// Accepts but never answers the WebSocket upgrade.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	cfg := client.DefaultConfig()
	cfg.Transport = client.TransportWebSocket
	cfg.DialTimeout = time.Second
	s := client.New(listener.Addr().String(), "testuser", cfg, client.Handlers{})

	result := make(chan error, 1)
	go func() { result <- s.Connect() }()

	select {
	case conn := <-accepted:
		t.Cleanup(func() { conn.Close() })
	case <-time.After(waitTimeout):
		t.Fatal("dial never reached the listener")
	}

	unblocked := make(chan struct{})
	go func() {
		assert.False(t, s.IsConnected())
		assert.Empty(t, s.Roster())
		assert.Error(t, s.Connect(), "a second Connect must not start another dial")
		s.Disconnect()
		close(unblocked)
	}()
	select {
	case <-unblocked:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("session methods blocked behind the dial")
	}

	select {
	case err := <-result:
		assert.Error(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Connect did not return")
	}
	assert.False(t, s.IsConnected())
	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestSession_DisconnectFromHandler(t *testing.T) {
	srv := startRelay(t)

	var s *client.Session
	var once sync.Once
	disconnects := make(chan error, 2)
	handlers := client.Handlers{
		OnRoster: func([]string) {
			once.Do(s.Disconnect)
		},
		OnDisconnect: func(err error) {
			s.Disconnect()
			disconnects <- err
		},
	}
	s = client.New(srv.Addr(), "impatient", client.DefaultConfig(), handlers)
	require.NoError(t, s.Connect())

	select {
	case err := <-disconnects:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Disconnect from a handler deadlocked")
	}
	<-s.Done()
}

func TestSession_ServerStop(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := server.New(cfg)
	require.NoError(t, srv.Listen())
	go srv.Serve()

	s, ev := connect(t, srv.Addr(), "alice", client.TransportTCP)
	ev.waitRoster(t, "alice")

	srv.Stop()

	err := ev.disconnected(t)
	require.Error(t, err)
	assert.True(t, protocol.IsClosed(err) || errors.Is(err, protocol.ErrIO), "unexpected error: %v", err)
	assert.False(t, s.IsConnected())
}

// fakeRelay accepts one participant, reads its name and writes raw bytes.
func fakeRelay(t *testing.T, script []byte) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := protocol.NewReader(conn, 0).ReadHandshake(); err != nil {
			return
		}
		conn.Write(script)
	}()
	return listener.Addr().String()
}

func TestSession_EmptyRoster(t *testing.T) {
	frame, err := protocol.NewUserList(nil).Encode(protocol.ServerToClient)
	require.NoError(t, err)
	addr := fakeRelay(t, frame)

	s, ev := connect(t, addr, "ghost", client.TransportTCP)

	select {
	case users := <-ev.rosters:
		assert.Empty(t, users)
	case <-time.After(waitTimeout):
		t.Fatal("Timeout waiting for roster")
	}
	assert.Empty(t, s.Roster())

	err = ev.disconnected(t)
	assert.ErrorIs(t, err, protocol.ErrConnectionClosed)
}

func TestSession_ProtocolViolation(t *testing.T) {
	addr := fakeRelay(t, []byte{9, 0, 0, 0, 0})

	_, ev := connect(t, addr, "victim", client.TransportTCP)

	err := ev.disconnected(t)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
}

func TestSession_TruncatedFrame(t *testing.T) {
	addr := fakeRelay(t, []byte{byte(protocol.TagText), 0, 0, 0, 5, 'b', 'o'})

	_, ev := connect(t, addr, "victim", client.TransportTCP)

	err := ev.disconnected(t)
	assert.ErrorIs(t, err, protocol.ErrProtocol)
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"localhost:5555", "ws://localhost:5555/ws"},
		{"ws://example.com/chat", "ws://example.com/chat"},
		{"wss://example.com/ws", "wss://example.com/ws"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, client.WebSocketURL(tt.address))
	}
}

func TestParseTransport(t *testing.T) {
	tests := []struct {
		in      string
		want    client.Transport
		wantErr bool
	}{
		{"tcp", client.TransportTCP, false},
		{"", client.TransportTCP, false},
		{"ws", client.TransportWebSocket, false},
		{"WebSocket", client.TransportWebSocket, false},
		{"udp", "", true},
	}
	for _, tt := range tests {
		got, err := client.ParseTransport(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
