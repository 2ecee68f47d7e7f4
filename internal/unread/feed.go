// Package unread reconciles locally held item lists and unread counters against
// server-pushed deltas and authoritative counts.
//
// Rules:
//   - Push appends a new item and counts it unless it came from the local identity.
//   - MarkRead flips one item to read and decrements by exactly one, clamped at zero.
//     Recently evicted ids keep their read flag, so a repeated ack stays a no-op.
//   - MarkAllRead flips every held item and adopts the server-supplied count.
//   - SetUnread is authoritative and overwrites the counter.
//
// Every operation is idempotent for a given item id, so a delta that arrives twice
// (for example via two server events for the same message) is applied once.
package unread

import "sync"

// DefaultLimit bounds how many items a Feed retains.
const DefaultLimit = 1000

// Item is an immutable element whose only mutable attribute is its read flag.
type Item[T any] interface {
	ItemID() string
	IsRead() bool
	WithRead(read bool) T
}

// Feed is a concurrency-safe list plus unread counter.
type Feed[T Item[T]] struct {
	mu     sync.RWMutex
	items  []T
	index  map[string]int
	acked  *idSet // read acks for ids not yet pushed
	gone   *idSet // evicted ids and their read flag
	unread int
	limit  int
}

// Option configures a Feed.
type Option func(*feedOptions)

type feedOptions struct {
	limit int
}

// WithLimit bounds retained items; the oldest are evicted first.
func WithLimit(n int) Option {
	return func(o *feedOptions) {
		if n > 0 {
			o.limit = n
		}
	}
}

// NewFeed constructs an empty Feed.
func NewFeed[T Item[T]](opts ...Option) *Feed[T] {
	o := feedOptions{limit: DefaultLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &Feed[T]{
		index: make(map[string]int),
		acked: newIDSet(max(o.limit, DefaultLimit)),
		gone:  newIDSet(max(o.limit, DefaultLimit)),
		limit: o.limit,
	}
}

// Push appends item unless its id is held or was recently evicted. The counter is
// incremented when the item is unread, not from the local identity, and not already
// acknowledged as read. It reports whether the item was new.
func (f *Feed[T]) Push(item T, fromSelf bool) bool {
	id := item.ItemID()
	if id == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.index[id]; ok {
		return false
	}
	if _, ok := f.gone.get(id); ok {
		return false
	}

	// A read ack can overtake the push that introduced the item.
	if _, ok := f.acked.get(id); ok {
		item = item.WithRead(true)
		f.acked.remove(id)
	}

	f.appendLocked(item)

	if !fromSelf && !item.IsRead() {
		f.unread++
	}
	return true
}

// MarkRead applies a read acknowledgement for id. Only an unread-to-read transition
// decrements the counter. It reports whether anything changed.
func (f *Feed[T]) MarkRead(id string) bool {
	if id == "" {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	i, ok := f.index[id]
	if !ok {
		if read, evicted := f.gone.get(id); evicted {
			if read {
				return false
			}
			f.gone.put(id, true)
			f.decrementLocked()
			return true
		}
		if _, seen := f.acked.get(id); seen {
			return false
		}
		f.acked.put(id, true)
		f.decrementLocked()
		return true
	}

	if f.items[i].IsRead() {
		return false
	}
	f.items[i] = f.items[i].WithRead(true)
	f.decrementLocked()
	return true
}

// MarkAllRead flips every held item to read and adopts serverCount.
func (f *Feed[T]) MarkAllRead(serverCount int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.items {
		if !f.items[i].IsRead() {
			f.items[i] = f.items[i].WithRead(true)
		}
	}
	f.gone.markAll(true)
	f.unread = clamp(serverCount)
}

// SetUnread overwrites the counter with an authoritative value.
func (f *Feed[T]) SetUnread(n int) {
	f.mu.Lock()
	f.unread = clamp(n)
	f.mu.Unlock()
}

// Load merges items (for example a history page) without touching the counter.
// Items already held are left as they are.
func (f *Feed[T]) Load(items []T) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	added := 0
	for _, it := range items {
		id := it.ItemID()
		if id == "" {
			continue
		}
		if _, ok := f.index[id]; ok {
			continue
		}
		f.gone.remove(id)
		f.appendLocked(it)
		added++
	}
	return added
}

// Unread returns the counter.
func (f *Feed[T]) Unread() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.unread
}

// Items returns a snapshot in arrival order.
func (f *Feed[T]) Items() []T {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]T(nil), f.items...)
}

// Get returns the held item with id.
func (f *Feed[T]) Get(id string) (T, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	i, ok := f.index[id]
	if !ok {
		var zero T
		return zero, false
	}
	return f.items[i], true
}

// Len returns the number of held items.
func (f *Feed[T]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

func (f *Feed[T]) appendLocked(item T) {
	f.items = append(f.items, item)
	f.index[item.ItemID()] = len(f.items) - 1

	if len(f.items) <= f.limit {
		return
	}
	drop := len(f.items) - f.limit
	for _, old := range f.items[:drop] {
		delete(f.index, old.ItemID())
		f.gone.put(old.ItemID(), old.IsRead())
	}
	f.items = append([]T(nil), f.items[drop:]...)
	for i, it := range f.items {
		f.index[it.ItemID()] = i
	}
}

func (f *Feed[T]) decrementLocked() {
	if f.unread > 0 {
		f.unread--
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// idSet is a bounded id -> flag map that forgets its oldest entries first.
type idSet struct {
	cap   int
	seq   uint64
	m     map[string]idEntry
	order []idRef
}

type idEntry struct {
	flag bool
	seq  uint64
}

type idRef struct {
	id  string
	seq uint64
}

func newIDSet(capacity int) *idSet {
	if capacity < 1 {
		capacity = 1
	}
	return &idSet{cap: capacity, m: make(map[string]idEntry)}
}

func (s *idSet) get(id string) (bool, bool) {
	e, ok := s.m[id]
	return e.flag, ok
}

func (s *idSet) put(id string, flag bool) {
	if e, ok := s.m[id]; ok {
		e.flag = flag
		s.m[id] = e
		return
	}
	s.seq++
	s.m[id] = idEntry{flag: flag, seq: s.seq}
	s.order = append(s.order, idRef{id: id, seq: s.seq})

	for len(s.m) > s.cap && len(s.order) > 0 {
		old := s.order[0]
		s.order = s.order[1:]
		// Entries removed and re-added carry a newer seq.
		if e, ok := s.m[old.id]; ok && e.seq == old.seq {
			delete(s.m, old.id)
		}
	}
	if len(s.order) > 2*s.cap {
		s.compact()
	}
}

func (s *idSet) remove(id string) {
	delete(s.m, id)
}

func (s *idSet) markAll(flag bool) {
	for id, e := range s.m {
		e.flag = flag
		s.m[id] = e
	}
}

func (s *idSet) len() int { return len(s.m) }

// compact drops order refs whose entry was removed or replaced.
func (s *idSet) compact() {
	live := make([]idRef, 0, len(s.m))
	for _, r := range s.order {
		if e, ok := s.m[r.id]; ok && e.seq == r.seq {
			live = append(live, r)
		}
	}
	s.order = live
}
