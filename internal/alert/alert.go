// Package alert isolates the best-effort audible/visual alert played when a chat
// message or notification arrives. It has no bearing on state correctness.
package alert

import (
	"log/slog"
	"sync"
	"time"
)

// Kind identifies what triggered an alert.
type Kind string

const (
	KindChatMessage  Kind = "chat_message"
	KindNotification Kind = "notification"
)

// Alert describes one arrival.
type Alert struct {
	Kind     Kind
	Source   string
	Title    string
	Priority string
	At       time.Time
}

// Alerter plays an alert. Implementations must not block the caller.
type Alerter interface {
	Alert(a Alert)
}

// Nop discards alerts.
type Nop struct{}

func (Nop) Alert(Alert) {}

// Func adapts a function to Alerter.
type Func func(Alert)

func (f Func) Alert(a Alert) {
	if f != nil {
		f(a)
	}
}

// Log records alerts at debug level; useful in headless deployments.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Alert(a Alert) {
	if l.Logger == nil {
		return
	}
	l.Logger.Debug("alert.play",
		"kind", string(a.Kind),
		"source", a.Source,
		"title", a.Title,
		"priority", a.Priority,
	)
}

// Throttled drops alerts arriving within Interval of the previous one, so a burst
// of pushes after a reconnect plays once.
type Throttled struct {
	next     Alerter
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewThrottled wraps next.
func NewThrottled(next Alerter, interval time.Duration) *Throttled {
	if next == nil {
		next = Nop{}
	}
	return &Throttled{next: next, interval: interval, now: time.Now}
}

func (t *Throttled) Alert(a Alert) {
	now := t.now()

	t.mu.Lock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		t.mu.Unlock()
		return
	}
	t.last = now
	t.mu.Unlock()

	t.next.Alert(a)
}

// OrNop returns a, or Nop when a is nil.
func OrNop(a Alerter) Alerter {
	if a == nil {
		return Nop{}
	}
	return a
}
