package retry

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/coordinator/internal/apierr"
	"github.com/agentforge/coordinator/internal/clock"
)

// runWithFakeClock starts fn in a goroutine and repeatedly advances fc
// until fn returns, so fake-clock waiters registered mid-call get a
// chance to fire.
func runWithFakeClock(t *testing.T, fc *clock.Fake, fn func() error) error {
	t.Helper()
	resultCh := make(chan error, 1)
	go func() { resultCh <- fn() }()

	for i := 0; i < 1000; i++ {
		select {
		case err := <-resultCh:
			return err
		case <-time.After(time.Millisecond):
			fc.Advance(time.Millisecond)
		}
	}
	t.Fatal("timed out waiting for fn to resolve")
	return nil
}

func TestDoRetriesOnlyTransientErrors(t *testing.T) {
	fc := clock.NewFake(time.Now())
	calls := 0
	err := runWithFakeClock(t, fc, func() error {
		return Do(context.Background(), fc, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() error {
			calls++
			if calls < 3 {
				return apierr.New(apierr.Conflict, "store.Save", "lost compare-and-set")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoDoesNotRetryNonTransientErrors(t *testing.T) {
	fc := clock.NewFake(time.Now())
	calls := 0
	err := Do(context.Background(), fc, DefaultPolicy, func() error {
		calls++
		return apierr.New(apierr.InvalidArgument, "store.Save", "bad input")
	})
	if err == nil {
		t.Fatal("expected the invalid-argument error to surface")
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-transient error, got %d", calls)
	}
}

func TestDoGivesUpAfterMaxAttempts(t *testing.T) {
	fc := clock.NewFake(time.Now())
	calls := 0
	err := runWithFakeClock(t, fc, func() error {
		return Do(context.Background(), fc, Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func() error {
			calls++
			return apierr.New(apierr.Conflict, "store.Save", "lost compare-and-set")
		})
	})
	if err == nil {
		t.Fatal("expected the last Conflict error to surface after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected exactly MaxAttempts=3 attempts, got %d", calls)
	}
}
