// Package protocol implements the relay wire format: a one byte tag followed
// by length-prefixed fields, shared verbatim by server and client.
package protocol

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Tag identifies the kind of frame on the wire.
type Tag uint8

const (
	TagAudio    Tag = 1
	TagText     Tag = 2
	TagUserList Tag = 3
)

// String returns the string representation of Tag
func (t Tag) String() string {
	switch t {
	case TagAudio:
		return "AUDIO"
	case TagText:
		return "TEXT"
	case TagUserList:
		return "USERLIST"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// Direction selects the field layout of a frame. Frames relayed by the
// server carry the sender name in front of the payload.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	if d == ClientToServer {
		return "client->server"
	}
	return "server->client"
}

// FieldCount returns how many fields a frame with tag t carries in direction
// d, and false when the tag is not valid in that direction.
func FieldCount(t Tag, d Direction) (int, bool) {
	switch t {
	case TagAudio, TagText:
		if d == ClientToServer {
			return 1, true
		}
		return 2, true
	case TagUserList:
		if d == ServerToClient {
			return 1, true
		}
	}
	return 0, false
}

// Message is a decoded frame. Sender is empty on frames sent by a client.
// For USERLIST frames Content holds the comma-joined roster.
type Message struct {
	Type    Tag
	Sender  string
	Content []byte
}

// NewAudio builds an AUDIO message.
func NewAudio(sender string, audio []byte) Message {
	return Message{Type: TagAudio, Sender: sender, Content: audio}
}

// NewText builds a TEXT message.
func NewText(sender, text string) Message {
	return Message{Type: TagText, Sender: sender, Content: []byte(text)}
}

// NewUserList builds a USERLIST message for the given roster.
func NewUserList(names []string) Message {
	return Message{Type: TagUserList, Content: EncodeRoster(names)}
}

// Text returns Content as a string.
func (m Message) Text() string {
	return string(m.Content)
}

// Roster splits a USERLIST payload into names.
func (m Message) Roster() []string {
	return ParseRoster(m.Content)
}

// Encode encodes the message as a complete frame for direction d.
func (m Message) Encode(d Direction) ([]byte, error) {
	n, ok := FieldCount(m.Type, d)
	if !ok {
		return nil, newError(ErrProtocol, "encode message", fmt.Errorf("tag %v is not valid %v", m.Type, d))
	}
	if n == 2 {
		return EncodeFrame(m.Type, []byte(m.Sender), m.Content)
	}
	return EncodeFrame(m.Type, m.Content)
}

// WriteHandshake sends the display name that opens every session.
func WriteHandshake(w io.Writer, name string) error {
	return WriteField(w, []byte(name))
}

// EncodeRoster joins names with commas. An empty roster is an empty payload.
func EncodeRoster(names []string) []byte {
	return []byte(strings.Join(names, ","))
}

// ParseRoster splits a roster payload. An empty payload is an empty roster,
// never a roster holding one empty name.
func ParseRoster(data []byte) []string {
	if len(data) == 0 {
		return []string{}
	}
	return strings.Split(string(data), ",")
}

// Reader decodes frames from a byte stream. Reads are not safe for
// concurrent use; each stream has exactly one reading goroutine.
type Reader struct {
	r            io.Reader
	maxFieldSize uint32
}

// NewReader returns a Reader that rejects fields larger than maxFieldSize.
// Zero disables the limit.
func NewReader(r io.Reader, maxFieldSize uint32) *Reader {
	return &Reader{r: r, maxFieldSize: maxFieldSize}
}

// ReadTag reads the next tag byte.
func (r *Reader) ReadTag() (Tag, error) {
	return ReadTag(r.r)
}

// ReadField reads one length-prefixed field, waiting for every declared byte.
func (r *Reader) ReadField() ([]byte, error) {
	return readField(r.r, r.maxFieldSize)
}

// ReadHandshake reads the display-name field sent first by a client.
func (r *Reader) ReadHandshake() (string, error) {
	data, err := r.ReadField()
	if err != nil {
		return "", newError(ErrHandshake, "read handshake", err)
	}
	if !utf8.Valid(data) {
		return "", newError(ErrHandshake, "read handshake", fmt.Errorf("display name is not valid UTF-8"))
	}
	return string(data), nil
}

// ReadMessage reads a complete frame laid out for direction d. Each field is
// fully consumed before the next one is read.
func (r *Reader) ReadMessage(d Direction) (Message, error) {
	tag, err := r.ReadTag()
	if err != nil {
		return Message{}, err
	}
	return r.ReadBody(tag, d)
}

// ReadBody reads the fields that follow an already consumed tag.
func (r *Reader) ReadBody(tag Tag, d Direction) (Message, error) {
	n, ok := FieldCount(tag, d)
	if !ok {
		return Message{}, newError(ErrProtocol, "read message", fmt.Errorf("unexpected tag %v %v", tag, d))
	}
	msg := Message{Type: tag}
	if n == 2 {
		sender, err := r.ReadField()
		if err != nil {
			return Message{}, err
		}
		msg.Sender = string(sender)
	}
	content, err := r.ReadField()
	if err != nil {
		return Message{}, err
	}
	msg.Content = content
	return msg, nil
}
