// Package ws carries the relay byte stream over WebSocket binary messages.
// Message boundaries carry no meaning: a frame may span several messages and
// a message may hold several frames.
package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const closeWriteTimeout = time.Second

// Conn is the server side of an upgraded WebSocket connection.
type Conn struct {
	conn   net.Conn
	reader io.Reader

	rmu           sync.Mutex
	readBuffer    []byte
	readBufferPos int

	wmu sync.Mutex
}

// Upgrade runs the server handshake on conn. The request is read from reader,
// which may hold bytes already peeked from conn. A non-empty path rejects
// requests for any other URI with 404.
func Upgrade(conn net.Conn, reader io.Reader, path string) (*Conn, error) {
	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			uri, _, _ = bytes.Cut(uri, []byte("?"))
			if path != "" && string(uri) != path {
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
			}
			return nil
		},
	}
	if _, err := u.Upgrade(readWriter{Reader: reader, Writer: conn}); err != nil {
		return nil, fmt.Errorf("websocket upgrade failed: %w", err)
	}
	return &Conn{conn: conn, reader: reader}, nil
}

type readWriter struct {
	io.Reader
	io.Writer
}

// lockedWriter serializes control-frame replies with data writes.
type lockedWriter struct {
	c *Conn
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	return w.c.conn.Write(p)
}

// Read implements chat.Conn. A close frame from the peer reads as io.EOF.
func (c *Conn) Read(p []byte) (int, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	// Return buffered data if available
	if c.readBufferPos < len(c.readBuffer) {
		n := copy(p, c.readBuffer[c.readBufferPos:])
		c.readBufferPos += n
		if c.readBufferPos >= len(c.readBuffer) {
			c.readBuffer = nil
			c.readBufferPos = 0
		}
		return n, nil
	}

	data, err := wsutil.ReadClientBinary(readWriter{Reader: c.reader, Writer: lockedWriter{c}})
	if err != nil {
		var closed wsutil.ClosedError
		if errors.As(err, &closed) {
			return 0, io.EOF
		}
		return 0, err
	}

	n := copy(p, data)
	if n < len(data) {
		c.readBuffer = data
		c.readBufferPos = n
	}
	return n, nil
}

// Write implements chat.Conn. Each call is sent as one binary message.
func (c *Conn) Write(p []byte) (int, error) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := wsutil.WriteServerBinary(c.conn, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame and closes the connection. The close frame is
// skipped while another write is stuck on the connection.
func (c *Conn) Close() error {
	if c.wmu.TryLock() {
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		_ = wsutil.WriteServerMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.wmu.Unlock()
	}
	return c.conn.Close()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// SetReadDeadline bounds the next reads.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
