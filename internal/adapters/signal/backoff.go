package signal

import (
	"math/rand/v2"
	"time"
)

// Backoff is bounded exponential with jitter. Attempt zero is immediate.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	// Jitter is the +/- fraction applied to every non-zero delay.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Second, Max: 30 * time.Second, Jitter: 0.2}
}

func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 || b.Initial <= 0 {
		return 0
	}
	d := b.Initial
	for i := 1; i < attempt && d < b.Max; i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		spread := float64(d) * b.Jitter
		d += time.Duration((rand.Float64()*2 - 1) * spread)
	}
	return d
}
