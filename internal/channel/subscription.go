package channel

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned by On. Closing it removes exactly that
// registration. Close is idempotent and safe on a nil handle.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Close unsubscribes.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Group collects subscriptions that are released together.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add records sub.
func (g *Group) Add(subs ...*Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, subs...)
	g.mu.Unlock()
}

// Close releases every recorded subscription.
func (g *Group) Close() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// Len returns the number of live entries.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.subs)
}

// listeners is an ordered, copy-on-write handler list.
type listeners[T any] struct {
	mu  sync.RWMutex
	seq uint64
	fns []listener[T]
}

type listener[T any] struct {
	id     uint64
	fn     func(T)
	active *atomic.Bool
}

func (l *listeners[T]) add(fn func(T)) *Subscription {
	active := &atomic.Bool{}
	active.Store(true)

	l.mu.Lock()
	l.seq++
	id := l.seq
	next := make([]listener[T], len(l.fns), len(l.fns)+1)
	copy(next, l.fns)
	l.fns = append(next, listener[T]{id: id, fn: fn, active: active})
	l.mu.Unlock()

	return newSubscription(func() {
		active.Store(false)
		l.remove(id)
	})
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]listener[T], 0, len(l.fns))
	for _, f := range l.fns {
		if f.id != id {
			next = append(next, f)
		}
	}
	l.fns = next
}

// emit calls every active listener in registration order. A panicking listener is
// reported through onPanic and does not stop the others.
func (l *listeners[T]) emit(v T, onPanic func(any)) int {
	l.mu.RLock()
	fns := l.fns
	l.mu.RUnlock()

	n := 0
	for _, f := range fns {
		if !f.active.Load() {
			continue
		}
		n++
		func() {
			defer func() {
				if r := recover(); r != nil && onPanic != nil {
					onPanic(r)
				}
			}()
			f.fn(v)
		}()
	}
	return n
}

func (l *listeners[T]) reset() {
	l.mu.Lock()
	for _, f := range l.fns {
		f.active.Store(false)
	}
	l.fns = nil
	l.mu.Unlock()
}

func (l *listeners[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fns)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
