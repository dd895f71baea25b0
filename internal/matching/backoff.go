package matching

import (
	"math/rand"
	"time"
)

// Backoff is the retry policy applied between scan attempts for a waiting
// user. Delays grow exponentially from Initial up to Max; with Jitter each
// delay is drawn uniformly from [delay/2, delay] so that waiters who joined
// together do not hammer the store in lockstep.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultBackoff returns the standard policy: 2s initial, doubling, capped
// at 30s, jittered.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		Jitter:     true,
	}
}

// Delay returns the wait before the given attempt (0-based). Attempt 0
// always waits the Initial delay.
func (b Backoff) Delay(attempt int) time.Duration {
	d := float64(b.Initial)
	for i := 0; i < attempt; i++ {
		d *= b.Multiplier
		if d >= float64(b.Max) {
			d = float64(b.Max)
			break
		}
	}

	if b.Jitter {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}
