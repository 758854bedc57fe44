package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"slices"
)

const (
	// LengthSize is the size of a field length prefix.
	LengthSize = 4
	// DefaultMaxFieldSize bounds a declared field length on the server.
	DefaultMaxFieldSize = 64 << 20

	readChunk = 4096
)

// WriteField writes a big-endian length prefix followed by data in a single
// write. A short write is reported as ErrIO.
func WriteField(w io.Writer, data []byte) error {
	buf, err := AppendField(make([]byte, 0, LengthSize+len(data)), data)
	if err != nil {
		return err
	}
	return write(w, "write field", buf)
}

// WriteTag writes a single tag byte.
func WriteTag(w io.Writer, tag Tag) error {
	return write(w, "write tag", []byte{byte(tag)})
}

// AppendField appends the encoded field to dst.
func AppendField(dst, data []byte) ([]byte, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return nil, newError(ErrProtocol, "encode field", fmt.Errorf("field of %d bytes does not fit a length prefix", len(data)))
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(data)))
	return append(dst, data...), nil
}

// EncodeFrame returns tag followed by every field, ready for a single write.
func EncodeFrame(tag Tag, fields ...[]byte) ([]byte, error) {
	size := 1
	for _, f := range fields {
		size += LengthSize + len(f)
	}
	buf := make([]byte, 1, size)
	buf[0] = byte(tag)
	for _, f := range fields {
		var err error
		if buf, err = AppendField(buf, f); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// ReadField reads one length-prefixed field with no size limit.
func ReadField(r io.Reader) ([]byte, error) {
	return readField(r, 0)
}

// ReadTag reads a single tag byte. A stream that ends before the tag yields
// ErrConnectionClosed.
func ReadTag(r io.Reader) (Tag, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return 0, newError(ErrConnectionClosed, "read tag", nil)
		}
		return 0, newError(ErrIO, "read tag", err)
	}
	return Tag(b[0]), nil
}

func readField(r io.Reader, limit uint32) ([]byte, error) {
	var hdr [LengthSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fieldError("read field length", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if limit > 0 && n > limit {
		return nil, newError(ErrProtocol, "read field", fmt.Errorf("declared length %d exceeds limit %d", n, limit))
	}

	// The declared length is not trusted for allocation; the buffer grows as
	// bytes actually arrive.
	data := make([]byte, 0, min(int(n), readChunk))
	for len(data) < int(n) {
		want := min(int(n)-len(data), readChunk)
		data = slices.Grow(data, want)
		m, err := r.Read(data[len(data) : len(data)+want])
		data = data[:len(data)+m]
		if err != nil {
			if len(data) == int(n) {
				break
			}
			return nil, fieldError("read field", err)
		}
	}
	return data, nil
}

func fieldError(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return newError(ErrProtocol, op, io.ErrUnexpectedEOF)
	}
	return newError(ErrIO, op, err)
}

func write(w io.Writer, op string, buf []byte) error {
	n, err := w.Write(buf)
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return newError(ErrIO, op, err)
	}
	return nil
}
