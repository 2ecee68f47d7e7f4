package channel

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Event is one server push as seen by handlers.
type Event struct {
	Namespace string
	Name      string
	ID        string
	TS        time.Time
	Payload   json.RawMessage
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(e.Payload, v)
}

// Handler receives pushed events. Handlers run on the Session's read goroutine in
// arrival order; a handler that blocks delays every later event of that Session.
// Handlers must not wait on acknowledged commands of the same Session.
type Handler func(Event)

// Dispatcher maps event names to ordered handler lists.
//
// All methods are safe on a nil *Dispatcher: On returns an inert Subscription and
// Dispatch delivers nothing.
type Dispatcher struct {
	namespace string
	log       *slog.Logger
	onProto   func(*ProtocolError)

	mu       sync.RWMutex
	handlers map[string]*listeners[Event]
}

// NewDispatcher constructs an empty Dispatcher.
func NewDispatcher(namespace string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		namespace: namespace,
		log:       log,
		handlers:  make(map[string]*listeners[Event]),
	}
}

// On registers fn for event. Multiple handlers per event are delivered in
// registration order. Close the returned Subscription to remove exactly this one.
func (d *Dispatcher) On(event string, fn Handler) *Subscription {
	if d == nil || fn == nil || event == "" {
		return newSubscription(nil)
	}

	d.mu.Lock()
	l := d.handlers[event]
	if l == nil {
		l = &listeners[Event]{}
		d.handlers[event] = l
	}
	d.mu.Unlock()

	return l.add(fn)
}

// Off removes the registration behind sub. It is equivalent to sub.Close().
func (d *Dispatcher) Off(sub *Subscription) {
	sub.Close()
}

// Dispatch delivers ev to the handlers registered for ev.Name and returns how many ran.
func (d *Dispatcher) Dispatch(ev Event) int {
	if d == nil {
		return 0
	}

	d.mu.RLock()
	l := d.handlers[ev.Name]
	d.mu.RUnlock()
	if l == nil {
		return 0
	}

	return l.emit(ev, func(r any) {
		d.report(&ProtocolError{Namespace: d.namespace, Event: ev.Name, Err: fmt.Errorf("handler panic: %v", r)})
	})
}

// Count returns the number of handlers registered for event.
func (d *Dispatcher) Count(event string) int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	l := d.handlers[event]
	d.mu.RUnlock()
	if l == nil {
		return 0
	}
	return l.len()
}

// Events lists event names that currently have handlers.
func (d *Dispatcher) Events() []string {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	live := make(map[string]struct{}, len(d.handlers))
	for name, l := range d.handlers {
		if l.len() > 0 {
			live[name] = struct{}{}
		}
	}
	d.mu.RUnlock()
	return sortedKeys(live)
}

// Reset releases every handler.
func (d *Dispatcher) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	hs := d.handlers
	d.handlers = make(map[string]*listeners[Event])
	d.mu.Unlock()

	for _, l := range hs {
		l.reset()
	}
}

func (d *Dispatcher) report(err *ProtocolError) {
	d.log.Warn("channel.protocol.drop", "namespace", err.Namespace, "event", err.Event, "err", err.Err)
	if d.onProto != nil {
		d.onProto(err)
	}
}

// OnJSON registers a typed handler. Payloads that do not decode into T are
// reported as ProtocolError and dropped; fn is not called for them.
func OnJSON[T any](d *Dispatcher, event string, fn func(T)) *Subscription {
	if d == nil || fn == nil {
		return newSubscription(nil)
	}
	return d.On(event, func(ev Event) {
		var v T
		if err := ev.Decode(&v); err != nil {
			d.report(&ProtocolError{Namespace: d.namespace, Event: ev.Name, Err: err})
			return
		}
		fn(v)
	})
}
