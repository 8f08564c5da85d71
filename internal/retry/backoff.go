// Package retry implements the single retry and throttling discipline that
// wraps every outbound venue call: per-venue call spacing, exponential
// backoff with jitter, venue-requested Retry-After waits, and the rule that
// authorization and validation failures are never retried.
package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential delays: Base * 2^attempt, capped at Max, then
// spread by +/- Jitter (a fraction of the delay).
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// DefaultBackoff is 1s doubling to 60s with 10% jitter.
var DefaultBackoff = Backoff{Base: time.Second, Max: 60 * time.Second, Jitter: 0.1}

// Raw returns the un-jittered delay for the given zero-based attempt.
func (b Backoff) Raw(attempt int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if attempt < 0 {
		attempt = 0
	}
	// 2^30 seconds is far past any sane cap.
	if attempt > 30 {
		if b.Max > 0 {
			return b.Max
		}
		attempt = 30
	}
	d := base * time.Duration(1<<attempt)
	if b.Max > 0 && (d > b.Max || d <= 0) {
		return b.Max
	}
	return d
}

// Delay returns the jittered delay for the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	return b.jittered(b.Raw(attempt), rand.Float64())
}

// jittered spreads d by up to +/- Jitter using r in [0,1).
func (b Backoff) jittered(d time.Duration, r float64) time.Duration {
	if b.Jitter <= 0 {
		return d
	}
	spread := float64(d) * b.Jitter
	out := time.Duration(float64(d) - spread + 2*spread*r)
	if out < 0 {
		return 0
	}
	return out
}
