package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport selects how a session reaches the relay.
type Transport string

const (
	TransportTCP       Transport = "tcp"
	TransportWebSocket Transport = "websocket"
)

// ParseTransport accepts the names used on the command line.
func ParseTransport(s string) (Transport, error) {
	switch strings.ToLower(s) {
	case "tcp", "":
		return TransportTCP, nil
	case "websocket", "ws":
		return TransportWebSocket, nil
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// Connection is the byte stream a session runs the protocol over.
type Connection interface {
	io.ReadWriteCloser
}

func dial(transport Transport, address string, timeout time.Duration) (Connection, error) {
	switch transport {
	case TransportTCP, "":
		d := net.Dialer{Timeout: timeout}
		return d.Dial("tcp", address)
	case TransportWebSocket:
		dialer := websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: timeout,
		}
		conn, _, err := dialer.Dial(WebSocketURL(address), nil)
		if err != nil {
			return nil, err
		}
		return newWebSocketConnection(conn), nil
	}
	return nil, fmt.Errorf("unknown transport %q", transport)
}

// WebSocketURL turns a host:port into the relay's WebSocket endpoint.
// Addresses that already carry a scheme are used as given.
func WebSocketURL(address string) string {
	if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
		return address
	}
	return "ws://" + address + "/ws"
}

const closeWriteTimeout = time.Second

// webSocketConnection flattens binary messages into one byte stream.
// A frame may span several messages and a message may hold several frames.
type webSocketConnection struct {
	conn *websocket.Conn

	rmu    sync.Mutex
	reader io.Reader

	wmu sync.Mutex
}

func newWebSocketConnection(conn *websocket.Conn) *webSocketConnection {
	return &webSocketConnection{conn: conn}
}

func (wc *webSocketConnection) Read(buf []byte) (int, error) {
	wc.rmu.Lock()
	defer wc.rmu.Unlock()

	for {
		if wc.reader == nil {
			messageType, r, err := wc.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			wc.reader = r
		}

		n, err := wc.reader.Read(buf)
		if errors.Is(err, io.EOF) {
			wc.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return n, err
	}
}

func (wc *webSocketConnection) Write(data []byte) (int, error) {
	wc.wmu.Lock()
	defer wc.wmu.Unlock()
	if err := wc.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (wc *webSocketConnection) Close() error {
	// WriteControl may run concurrently with a pending Write.
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = wc.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	return wc.conn.Close()
}
