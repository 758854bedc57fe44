// Package chat holds the relay's connection registry, shared by every
// transport the server accepts.
package chat

// Conn abstracts the bidirectional byte stream of one participant, whether it
// arrived as raw TCP or as a WebSocket.
type Conn interface {
	// Read reads raw stream bytes. It may return fewer bytes than requested
	// and returns io.EOF when the peer closed the stream.
	Read(p []byte) (int, error)

	// Write writes raw stream bytes.
	Write(p []byte) (int, error)

	// Close closes the stream.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}
