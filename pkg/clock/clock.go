// Package clock abstracts the kernel's single time source. Both the
// escalation warning and the absolute expiry timers must be scheduled
// against the same Clock; mixing wall and virtual sources drifts the two.
package clock

import "time"

// Clock supplies the current time and one-shot timers.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f once after d elapses. The callback runs on its own
	// goroutine for the wall clock and inline during Advance for the
	// virtual clock; callers must not assume either.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled one-shot callback.
type Timer interface {
	// Stop cancels the timer. It reports false if the callback already
	// fired or was stopped before.
	Stop() bool
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) AfterFunc(d time.Duration, f func()) Timer {
	return wallTimer{time.AfterFunc(d, f)}
}

type wallTimer struct{ t *time.Timer }

func (w wallTimer) Stop() bool { return w.t.Stop() }

// Wall returns the real-time clock.
func Wall() Clock { return wallClock{} }
