package notifier

import (
	"math"
	"math/rand"
	"time"
)

// Backoff computes exponential retry delays with jitter. It is not safe
// for concurrent use; each delivery owns one.
type Backoff struct {
	Initial    time.Duration // Initial delay
	Max        time.Duration // Maximum delay
	Multiplier float64       // Multiplier per attempt (default: 2.0)
	Jitter     float64       // Jitter factor 0-1 (default: 0.1 = 10%)

	attempt int
}

// NewBackoff creates a Backoff with the given bounds, doubling per attempt
// with 10% jitter.
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{
		Initial:    initial,
		Max:        max,
		Multiplier: 2.0,
		Jitter:     0.1,
	}
}

// Next returns the next backoff duration and increments the attempt counter.
func (b *Backoff) Next() time.Duration {
	// initial * multiplier^attempt
	delay := float64(b.Initial) * math.Pow(b.Multiplier, float64(b.attempt))

	if delay > float64(b.Max) {
		delay = float64(b.Max)
	}

	// delay * (1 + random(-jitter, +jitter))
	if b.Jitter > 0 {
		jitterRange := delay * b.Jitter
		delay = delay + (rand.Float64()*2-1)*jitterRange
	}

	if delay < 0 {
		delay = float64(b.Initial)
	}

	b.attempt++
	return time.Duration(delay)
}

// Reset resets the attempt counter to zero.
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt returns the current attempt number.
func (b *Backoff) Attempt() int {
	return b.attempt
}
