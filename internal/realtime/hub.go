package realtime

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Hub owns live clients and in-memory rooms for every namespace.
// Persistence lives behind MessageStore and the other stores.
type Hub struct {
	log *slog.Logger

	mu      sync.RWMutex
	rooms   map[string]*Room
	clients map[string]*Client
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:     log,
		rooms:   make(map[string]*Room),
		clients: make(map[string]*Client),
	}
}

func roomKey(namespace, id string) string { return namespace + "/" + id }

// Room returns a stable room handle, creating it on first use.
func (h *Hub) Room(namespace, id string) *Room {
	key := roomKey(namespace, id)

	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[key]; ok {
		return r
	}
	r := NewRoom(h.log, namespace, id)
	h.rooms[key] = r
	return r
}

// LookupRoom returns an existing room.
func (h *Hub) LookupRoom(namespace, id string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomKey(namespace, id)]
}

// DropRoom forgets a room once it is empty.
func (h *Hub) DropRoom(namespace, id string) {
	key := roomKey(namespace, id)

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[key]; ok && r.Len() == 0 {
		delete(h.rooms, key)
	}
}

// Register tracks a connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.SessionID] = c
	h.mu.Unlock()
}

// Unregister removes a client from the registry and from every room.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.SessionID)
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		if r.Namespace == c.Namespace {
			rooms = append(rooms, r)
		}
	}
	h.mu.Unlock()

	for _, r := range rooms {
		if r.Leave(c.SessionID) && r.Len() == 0 {
			h.DropRoom(r.Namespace, r.ID)
		}
	}
}

// Clients returns live clients of namespace matching keep (nil keeps all).
func (h *Hub) Clients(namespace string, keep func(*Client) bool) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Client
	for _, c := range h.clients {
		if c.Namespace != namespace {
			continue
		}
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// ClientsOf returns the live clients of one identity in namespace.
func (h *Hub) ClientsOf(namespace, identityID string) []*Client {
	return h.Clients(namespace, func(c *Client) bool { return c.Principal.ID == identityID })
}

// RoomsOf returns the rooms of namespace that sessionID has joined.
func (h *Hub) RoomsOf(namespace, sessionID string) []*Room {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*Room
	for _, r := range h.rooms {
		if r.Namespace == namespace && r.Has(sessionID) {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of live clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// KickAll closes every live client with code.
func (h *Hub) KickAll(code websocket.StatusCode, reason string) int {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		c.Kick(code, reason)
	}
	return len(all)
}
