// Package clock supplies the monotonic time and scheduled-callback
// seam used by every background sweeper in the coordination
// substrate (lock expiry, delayed-message drain, resource state
// refresh, approval escalation). The teacher's background loops
// (internal/nats/server.go, internal/supervisor) call time.Sleep and
// time.NewTicker directly; this package factors that into an
// interface so the sweepers can be driven by a fake clock in tests.
package clock

import "time"

// Clock is the minimal surface the coordination substrate needs from
// wall-clock time.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	NewTicker(d time.Duration) Ticker
	AfterFunc(d time.Duration, f func()) Timer
}

// Ticker mirrors time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Timer mirrors time.Timer.
type Timer interface {
	Stop() bool
}

// Real is the production Clock backed by the standard library.
type Real struct{}

func NewReal() Real { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (Real) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type realTicker struct{ t *time.Ticker }

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
