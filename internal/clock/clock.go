// Package clock provides the engine's millisecond time source.
// Production code wraps clockwork.NewRealClock(); tests substitute
// clockwork.NewFakeClock() so CHECK_TIMEOUT/INFORM_SESSION_END firings are
// deterministic and advance only when the test tells them to.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the injectable millisecond source named in spec.md §4.1.
type Clock interface {
	// NowMs returns the underlying clock's current time in milliseconds
	// since the Unix epoch. It reads wall-clock time, not a monotonic
	// reading, so a step of the system clock moves it.
	NowMs() uint64
	// Underlying exposes the clockwork.Clock so the timer service can arm
	// real (or fake) timers against the same source.
	Underlying() clockwork.Clock
}

type wrapping struct {
	c clockwork.Clock
}

// New wraps an existing clockwork.Clock. Pass clockwork.NewFakeClock() in
// tests to control firing order deterministically.
func New(c clockwork.Clock) Clock {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &wrapping{c: c}
}

// NewReal returns a Clock backed by the real system clock.
func NewReal() Clock { return New(clockwork.NewRealClock()) }

func (w *wrapping) NowMs() uint64 {
	return uint64(w.c.Now().UnixMilli())
}

func (w *wrapping) Underlying() clockwork.Clock { return w.c }

// MsToDuration converts a millisecond count to a time.Duration, the form
// clockwork.Clock timers want.
func MsToDuration(ms uint64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
