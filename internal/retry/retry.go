// Package retry implements the transient-error backoff policy named
// in spec.md §7: "local retry is used only for transient store errors
// with exponential backoff and a small cap. All other errors are
// surfaced to callers." Grounded in internal/clock's injectable Clock
// (so backoff delays are test-driven rather than real sleeps, the same
// seam the lock sweeper and approval escalation loop use) since the
// teacher has no equivalent retry helper of its own — its NATS client
// relies on nats.go's built-in reconnect loop instead.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/clock"
)

// Policy bounds a retry loop: MaxAttempts total tries (1 = no retry),
// starting at BaseDelay and doubling up to MaxDelay each attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy is the "small cap" spec.md §7 calls for: three
// attempts, waiting 25ms after the first and 50ms after the second
// (delays double, capped at 400ms).
var DefaultPolicy = Policy{MaxAttempts: 3, BaseDelay: 25 * time.Millisecond, MaxDelay: 400 * time.Millisecond}

// Transient reports whether err is the kind of error local retry
// applies to: a Conflict (spec.md §7: "concurrent mutation lost a
// compare-and-set; callers may retry").
func Transient(err error) bool {
	return errors.Is(err, apierr.ErrConflict)
}

// Do runs fn, retrying on Transient errors per policy. ctx cancellation
// aborts the loop early. Returns the last error if every attempt fails.
func Do(ctx context.Context, c clock.Clock, policy Policy, fn func() error) error {
	if c == nil {
		c = clock.NewReal()
	}
	delay := policy.BaseDelay
	var err error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil || !Transient(err) {
			return err
		}
		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(delay):
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return err
}
