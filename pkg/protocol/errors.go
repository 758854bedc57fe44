package protocol

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package matches at least one of
// them with errors.Is; handshake failures also carry the kind of the
// underlying read failure.
var (
	// ErrConnectionClosed reports an orderly close: the peer closed the
	// stream on a frame boundary.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrProtocol reports a truncated field, an unknown tag or an oversized field.
	ErrProtocol = errors.New("protocol error")
	// ErrIO reports a read or write failure on a live stream.
	ErrIO = errors.New("i/o error")
	// ErrHandshake reports a handshake field that could not be decoded.
	ErrHandshake = errors.New("handshake error")
)

// Error carries the kind of failure together with the operation and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsClosed reports whether err is an orderly close rather than a failure.
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}
