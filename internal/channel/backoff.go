package channel

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BackoffPolicy shapes the reconnect schedule: the first retry is immediate, later
// ones grow exponentially up to Max. Attempts are unbounded.
type BackoffPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// Jitter is the randomization factor in [0, 1).
	Jitter float64
}

// DefaultBackoff is the production reconnect policy.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		Initial:    500 * time.Millisecond,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     0.25,
	}
}

func (p BackoffPolicy) normalized() BackoffPolicy {
	def := DefaultBackoff()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = def.Jitter
	}
	return p
}

type retrySchedule struct {
	attempt int
	max     time.Duration
	exp     *backoff.ExponentialBackOff
}

func (p BackoffPolicy) schedule() *retrySchedule {
	p = p.normalized()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.Initial
	exp.MaxInterval = p.Max
	exp.Multiplier = p.Multiplier
	exp.RandomizationFactor = p.Jitter
	exp.Reset()

	return &retrySchedule{max: p.Max, exp: exp}
}

// next returns the 1-based attempt number and the delay to wait before it.
func (r *retrySchedule) next() (int, time.Duration) {
	r.attempt++
	if r.attempt == 1 {
		return r.attempt, 0
	}
	d := r.exp.NextBackOff()
	if d < 0 || d > r.max {
		d = r.max
	}
	return r.attempt, d
}
