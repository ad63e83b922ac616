// Package backoff provides the retry delay policy for outbox deliveries.
// The policy is stateless and safe for concurrent use.
package backoff

import (
	"math/rand/v2"
	"time"
)

// NeverRetryInterval is the sentinel delay scheduled once MaxAttempts is
// exhausted. The entry stays queued but is effectively never picked.
const NeverRetryInterval = 365 * 24 * time.Hour

// Policy computes next-attempt times using decorrelated jitter: each
// delay is drawn uniformly from [base, min(cap, prev*3)]. Decorrelated
// jitter spreads retries across clients sharing a backend while keeping
// the expected delay bounded.
type Policy struct {
	// BaseDelay is the minimum delay and the first-retry seed.
	BaseDelay time.Duration

	// MaxDelay caps every jittered delay.
	MaxDelay time.Duration

	// MaxAttempts is the attempt count at which transient failures stop
	// being rescheduled within a practical horizon.
	MaxAttempts int
}

// DefaultPolicy returns the policy defaults: 500ms base, 60s cap,
// 8 attempts.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    60 * time.Second,
		MaxAttempts: 8,
	}
}

// NextDelay draws the next decorrelated-jitter delay from the previous
// one. A zero or negative prev seeds from BaseDelay.
func (p Policy) NextDelay(prev time.Duration) time.Duration {
	lo := p.BaseDelay
	if prev < lo {
		prev = lo
	}

	hi := prev * 3
	if hi > p.MaxDelay {
		hi = p.MaxDelay
	}
	if hi <= lo {
		return lo
	}

	return lo + rand.N(hi-lo+1) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// NextAttempt returns the scheduled time of the given attempt. Once
// attempt reaches MaxAttempts the result is now+NeverRetryInterval.
// prev is the delay that preceded this attempt; pass zero when unknown.
func (p Policy) NextAttempt(attempt int, now time.Time, prev time.Duration) time.Time {
	if attempt >= p.MaxAttempts {
		return now.Add(NeverRetryInterval)
	}
	return now.Add(p.NextDelay(prev))
}
