package realtime

import (
	"log/slog"
	"sort"
	"sync"

	v1 "github.com/cambiartech/buykoins-realtime/shared/contracts/realtime/v1"
)

// Room is an in-memory membership + broadcast fanout primitive for one
// conversation or widget session.
//
// Join/Leave are safe under concurrent Broadcast. Broadcast never blocks; a full
// member queue drops the envelope for that member.
type Room struct {
	log       *slog.Logger
	ID        string
	Namespace string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room.
func NewRoom(log *slog.Logger, namespace, id string) *Room {
	return &Room{
		log:       log,
		ID:        id,
		Namespace: namespace,
		members:   make(map[string]*Client),
	}
}

// Join adds a client and reports whether it was new.
func (r *Room) Join(client *Client) bool {
	if r == nil || client == nil || client.SessionID == "" {
		return false
	}

	r.mu.Lock()
	_, existed := r.members[client.SessionID]
	r.members[client.SessionID] = client
	r.mu.Unlock()

	if !existed {
		r.log.Debug("room.member.join", "namespace", r.Namespace, "room_id", r.ID, "session_id", client.SessionID)
	}
	return !existed
}

// Leave removes a session. The client itself keeps running.
func (r *Room) Leave(sessionID string) bool {
	if r == nil || sessionID == "" {
		return false
	}

	r.mu.Lock()
	_, ok := r.members[sessionID]
	delete(r.members, sessionID)
	r.mu.Unlock()

	if ok {
		r.log.Debug("room.member.leave", "namespace", r.Namespace, "room_id", r.ID, "session_id", sessionID)
	}
	return ok
}

// Has reports whether sessionID is a member.
func (r *Room) Has(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[sessionID]
	return ok
}

// Len returns the member count.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Members returns a snapshot ordered by session id.
func (r *Room) Members() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Broadcast fans env out to every member except exceptSession. It returns how
// many members accepted it and how many had a full queue.
func (r *Room) Broadcast(env v1.Envelope, exceptSession string) (sent, dropped int) {
	if r == nil {
		return 0, 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if m == nil || id == exceptSession {
			continue
		}
		if m.Offer(env) {
			sent++
		} else {
			dropped++
		}
	}
	return sent, dropped
}
