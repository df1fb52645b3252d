package broker

import (
	"math/rand"
	"time"
)

// Backoff computes the wait between gateway retries.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	// Jitter spreads each wait by +/- Jitter * wait. Zero keeps waits exact.
	Jitter float64
}

// DefaultBackoff doubles from 200ms up to 5s without jitter.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    200 * time.Millisecond,
		Max:    5 * time.Second,
		Factor: 2.0,
	}
}

// Next returns the wait before retry attempt (1-based).
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next >= max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter <= 0 {
		return wait
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}
