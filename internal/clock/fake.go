package clock

import (
	"sync"
	"time"
)

// Fake is a manually-advanced Clock for deterministic tests of the
// periodic sweepers.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
	tickers []*fakeTicker
}

type fakeWaiter struct {
	at   int64 // unix nanos deadline
	ch   chan time.Time
	f    func()
	done bool
}

// NewFake creates a Fake clock starting at the given time.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := f.now.Add(d)
	f.waiters = append(f.waiters, &fakeWaiter{at: deadline.UnixNano(), ch: ch})
	return ch
}

func (f *Fake) AfterFunc(d time.Duration, cb func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	deadline := f.now.Add(d)
	w := &fakeWaiter{at: deadline.UnixNano(), f: cb}
	f.waiters = append(f.waiters, w)
	return &fakeTimer{w: w}
}

func (f *Fake) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{period: d, next: f.now.Add(d), ch: make(chan time.Time, 1)}
	f.tickers = append(f.tickers, t)
	return t
}

// Advance moves the clock forward by d, firing any waiters and ticker
// ticks whose deadline has passed, in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now

	var remaining []*fakeWaiter
	var fire []*fakeWaiter
	for _, w := range f.waiters {
		if w.done {
			continue
		}
		if w.at <= now.UnixNano() {
			fire = append(fire, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	f.waiters = remaining

	var tick []*fakeTicker
	for _, t := range f.tickers {
		if t.stopped {
			continue
		}
		for !t.next.After(now) {
			tick = append(tick, t)
			t.next = t.next.Add(t.period)
		}
	}
	f.mu.Unlock()

	for _, w := range fire {
		if w.ch != nil {
			w.ch <- now
		}
		if w.f != nil {
			w.f()
		}
	}
	for _, t := range tick {
		select {
		case t.ch <- now:
		default:
		}
	}
}

type fakeTimer struct {
	mu sync.Mutex
	w  *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.w.done
	t.w.done = true
	return !was
}

type fakeTicker struct {
	period  time.Duration
	next    time.Time
	ch      chan time.Time
	stopped bool
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               { t.stopped = true }
