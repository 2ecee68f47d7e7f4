package channel

import "sync"

// Registry is the ordered set of rooms a Session has been asked to join.
type Registry struct {
	mu    sync.Mutex
	order []string
	set   map[string]struct{}
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{set: make(map[string]struct{})}
}

// Add records room and reports whether it was new. Adding a held room is a no-op.
func (r *Registry) Add(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[room]; ok {
		return false
	}
	r.set[room] = struct{}{}
	r.order = append(r.order, room)
	return true
}

// Remove forgets room and reports whether it was held.
func (r *Registry) Remove(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[room]; !ok {
		return false
	}
	delete(r.set, room)

	next := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if id != room {
			next = append(next, id)
		}
	}
	r.order = next
	return true
}

// Has reports whether room is held.
func (r *Registry) Has(room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.set[room]
	return ok
}

// Rooms returns the held rooms in original join order.
func (r *Registry) Rooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of held rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear forgets every room.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.order = nil
	r.set = make(map[string]struct{})
	r.mu.Unlock()
}

// RoomProtocol names the join/leave commands of a namespace and builds their payload.
// The zero value means the namespace has no rooms.
type RoomProtocol struct {
	Join    string
	Leave   string
	Payload func(room string) any
}

func (p RoomProtocol) enabled() bool {
	return p.Join != "" && p.Leave != "" && p.Payload != nil
}
