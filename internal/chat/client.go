package chat

import (
	"io"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueSize is the number of encoded frames buffered per client.
const DefaultQueueSize = 64

// Client is the registry handle of one live connection. Frames for the
// client go through a bounded queue drained by a single writer, so two
// frames never interleave on its stream.
type Client struct {
	ID         string
	Conn       Conn
	Username   string
	RemoteAddr string

	outgoing  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewClient wraps conn in a handle with a queue of queueSize frames.
func NewClient(conn Conn, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		ID:         uuid.NewString(),
		Conn:       conn,
		RemoteAddr: conn.RemoteAddr(),
		outgoing:   make(chan []byte, queueSize),
		done:       make(chan struct{}),
	}
}

// Send queues an encoded frame without blocking. It reports false when the
// queue is full or the client is closed; the frame is then dropped and the
// caller decides what happens to the client.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outgoing <- frame:
		return true
	default:
		return false
	}
}

// WriteLoop writes queued frames to the connection until the client is
// closed. A failed write closes the client and is returned.
func (c *Client) WriteLoop() error {
	for {
		select {
		case <-c.done:
			return nil
		case frame := <-c.outgoing:
			n, err := c.Conn.Write(frame)
			if err == nil && n < len(frame) {
				err = io.ErrShortWrite
			}
			if err != nil {
				_ = c.Close()
				return err
			}
		}
	}
}

// Close closes the connection once; later calls return the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}
