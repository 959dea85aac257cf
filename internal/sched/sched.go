// Package sched abstracts delayed callbacks so timer-driven state machines
// can be driven by a virtual clock in tests.
package sched

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending callback.
type Timer interface {
	// Stop cancels the callback. It reports whether the call stopped it
	// before it fired.
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Real schedules on the wall clock.
type Real struct{}

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Fake is a virtual clock. Callbacks only run inside Advance, on the
// caller's goroutine, in due-time order.
type Fake struct {
	mu      sync.Mutex
	now     time.Duration
	seq     int
	pending []*fakeTimer
}

type fakeTimer struct {
	f       *Fake
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

// NewFake returns a virtual clock at zero.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	if d < 0 {
		d = 0
	}
	f.seq++
	t := &fakeTimer{f: f, at: f.now + d, seq: f.seq, fn: fn}
	f.pending = append(f.pending, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.f.mu.Lock()
	defer t.f.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, running every callback that
// becomes due, including ones scheduled by callbacks during the advance.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now + d
	f.mu.Unlock()

	for {
		t := f.next(target)
		if t == nil {
			break
		}
		t.fn()
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// next pops the earliest live timer due at or before target and moves the
// clock to its due time.
func (f *Fake) next(target time.Duration) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	live := f.pending[:0]
	for _, t := range f.pending {
		if !t.stopped {
			live = append(live, t)
		}
	}
	f.pending = live

	sort.SliceStable(f.pending, func(i, j int) bool {
		if f.pending[i].at != f.pending[j].at {
			return f.pending[i].at < f.pending[j].at
		}
		return f.pending[i].seq < f.pending[j].seq
	})
	if len(f.pending) == 0 || f.pending[0].at > target {
		return nil
	}
	t := f.pending[0]
	f.pending = f.pending[1:]
	t.fired = true
	f.now = t.at
	return t
}

// Now returns the virtual time elapsed since NewFake.
func (f *Fake) Now() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Pending returns the number of live timers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, t := range f.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}
