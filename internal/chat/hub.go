package chat

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned when a handle is registered twice.
var ErrAlreadyRegistered = errors.New("client already registered")

// Member is a point-in-time copy of one registry entry.
type Member struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	RemoteAddr string `json:"remote_addr"`
}

// Hub is the registry of connections that completed the handshake. Every
// read and mutation takes its single lock; the lock is never held while
// writing to a connection.
type Hub struct {
	clients map[*Client]bool
	order   []*Client
	mu      sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
	}
}

// Register adds a client to the hub. The client's Username must be set.
func (h *Hub) Register(client *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		return ErrAlreadyRegistered
	}
	h.clients[client] = true
	h.order = append(h.order, client)
	return nil
}

// Unregister removes a client from the hub and reports whether it was
// present. Removing an absent client is a no-op.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return false
	}
	delete(h.clients, client)
	for i, c := range h.order {
		if c == client {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return true
}

// Names returns the display names of all registered clients in join order.
// Names are not unique.
func (h *Hub) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.order))
	for _, c := range h.order {
		names = append(names, c.Username)
	}
	return names
}

// PeersExcept returns every registered client other than excluded. A nil
// excluded returns all clients.
func (h *Hub) PeersExcept(excluded *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	peers := make([]*Client, 0, len(h.order))
	for _, c := range h.order {
		if c != excluded {
			peers = append(peers, c)
		}
	}
	return peers
}

// Members returns a copy of every registry entry.
func (h *Hub) Members() []Member {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]Member, 0, len(h.order))
	for _, c := range h.order {
		members = append(members, Member{ID: c.ID, Username: c.Username, RemoteAddr: c.RemoteAddr})
	}
	return members
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
