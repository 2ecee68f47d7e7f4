package realtime

import (
	"sync"
	"time"
)

// RateLimiter caps the client envelopes one connection may send per window.
// It keeps the last limit accepted timestamps in a ring.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	full   bool
	window time.Duration
}

// NewRateLimiter builds a limiter. Non-positive inputs fall back to the gateway defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow records an envelope at now unless limit envelopes were already
// accepted within the window ending at now.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The slot about to be overwritten holds the oldest accepted timestamp.
	if r.full && now.Sub(r.ring[r.next]) < r.window {
		return false
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	return true
}

// RetryAfter reports how long until Allow would succeed again.
func (r *RateLimiter) RetryAfter(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return 0
	}
	if d := r.window - now.Sub(r.ring[r.next]); d > 0 {
		return d
	}
	return 0
}
