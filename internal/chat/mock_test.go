package chat_test

import (
	"bytes"
	"io"
	"sync"

	"github.com/omochice/voice-relay-chat/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	writtenMu  sync.Mutex
	written    bytes.Buffer
	writeErr   error
	closed     bool
	closeCount int
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{remoteAddr: addr}
}

func (m *mockConn) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (m *mockConn) Write(p []byte) (int, error) {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	return m.written.Write(p)
}

func (m *mockConn) Close() error {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.closed = true
	m.closeCount++
	return nil
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

func (m *mockConn) Written() []byte {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return append([]byte(nil), m.written.Bytes()...)
}

func (m *mockConn) Closed() (bool, int) {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.closed, m.closeCount
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
