// Package clock provides the monotonic time source and delayed-callback
// scheduler that the tracker packages (loader, tracker) use instead of
// calling time.Now/time.AfterFunc directly. Routing all timing through one interface
// keeps the tracker's driver loop deterministic under test.
package clock

import "time"

// Handle identifies a scheduled callback so it can be canceled.
type Handle interface {
	// Cancel prevents the callback from firing if it has not fired yet.
	// Canceling an already-fired or already-canceled handle is a no-op.
	Cancel()
}

// Clock is the time source and single-shot scheduler used by the tracker.
// All tracker state transitions run on the driver goroutine (see
// pkg/tracker), so a Clock implementation does not need its own locking as
// long as Schedule's callback is also delivered on that goroutine.
type Clock interface {
	// NowMs returns the current time in milliseconds, from a monotonic
	// source. Only differences between two NowMs() calls are meaningful.
	NowMs() int64
	// Schedule arranges for cb to run after delayMs milliseconds, on the
	// clock's delivery goroutine, and returns a handle that can cancel it.
	Schedule(delayMs int64, cb func()) Handle
}

// System is the production Clock, backed by the standard library.
type System struct {
	start time.Time
}

// NewSystem returns a Clock backed by time.Now and time.AfterFunc. Its NowMs
// counts milliseconds since NewSystem was called.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) NowMs() int64 {
	return time.Since(s.start).Milliseconds()
}

func (s *System) Schedule(delayMs int64, cb func()) Handle {
	if delayMs <= 0 {
		delayMs = 0
	}
	timer := time.AfterFunc(time.Duration(delayMs)*time.Millisecond, cb)
	return &systemHandle{timer: timer}
}

type systemHandle struct {
	timer *time.Timer
}

func (h *systemHandle) Cancel() {
	h.timer.Stop()
}
