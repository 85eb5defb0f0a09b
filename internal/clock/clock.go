// Package clock abstracts wall-clock access so multi-day runs can be
// driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source used by the experiment worker and the hardware
// settle delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Real is the system clock.
type Real struct{}

// Now returns the current local time.
func (Real) Now() time.Time { return time.Now() }

// Sleep blocks for d.
func (Real) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a manually advanced clock. Sleep returns immediately after moving
// the clock forward, so a seven-day run completes in milliseconds.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	onStep func(time.Time)
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the clock by d. Negative durations are ignored.
func (f *Fake) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	f.Advance(d)
}

// Advance moves the clock forward and invokes the step hook, if any.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	now := f.now
	hook := f.onStep
	f.mu.Unlock()

	if hook != nil {
		hook(now)
	}
}

// OnStep registers fn to be called after every advance. Tests use it to
// inject stop requests at a given point in simulated time.
func (f *Fake) OnStep(fn func(time.Time)) {
	f.mu.Lock()
	f.onStep = fn
	f.mu.Unlock()
}
