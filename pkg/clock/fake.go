package clock

import "sort"

// Fake is a manually-advanced Clock for deterministic tests. It is not
// safe for concurrent use; tests are expected to drive it from a single
// goroutine, which matches how the tracker's driver consumes a Clock.
type Fake struct {
	nowMs   int64
	nextID  int64
	pending []*fakeTimer
}

type fakeTimer struct {
	id       int64
	fireAtMs int64
	cb       func()
	canceled bool
}

func (t *fakeTimer) Cancel() {
	t.canceled = true
}

// NewFake returns a Fake clock starting at t0Ms.
func NewFake(t0Ms int64) *Fake {
	return &Fake{nowMs: t0Ms}
}

func (f *Fake) NowMs() int64 {
	return f.nowMs
}

func (f *Fake) Schedule(delayMs int64, cb func()) Handle {
	if delayMs < 0 {
		delayMs = 0
	}
	f.nextID++
	t := &fakeTimer{id: f.nextID, fireAtMs: f.nowMs + delayMs, cb: cb}
	f.pending = append(f.pending, t)
	return t
}

// Advance moves the clock forward by deltaMs, synchronously firing (in
// fire-time order) every callback whose deadline has been reached, including
// ones scheduled by earlier callbacks in the same Advance call.
func (f *Fake) Advance(deltaMs int64) {
	f.AdvanceTo(f.nowMs + deltaMs)
}

// AdvanceTo moves the clock forward to targetMs, firing due callbacks.
func (f *Fake) AdvanceTo(targetMs int64) {
	for {
		due := f.dueTimer(targetMs)
		if due == nil {
			break
		}
		f.nowMs = due.fireAtMs
		due.canceled = true // fired, remove from pending
		due.cb()
	}
	if targetMs > f.nowMs {
		f.nowMs = targetMs
	}
	f.compact()
}

func (f *Fake) dueTimer(targetMs int64) *fakeTimer {
	var earliest *fakeTimer
	for _, t := range f.pending {
		if t.canceled || t.fireAtMs > targetMs {
			continue
		}
		if earliest == nil || t.fireAtMs < earliest.fireAtMs || (t.fireAtMs == earliest.fireAtMs && t.id < earliest.id) {
			earliest = t
		}
	}
	return earliest
}

func (f *Fake) compact() {
	live := f.pending[:0]
	for _, t := range f.pending {
		if !t.canceled {
			live = append(live, t)
		}
	}
	f.pending = live
	sort.Slice(f.pending, func(i, j int) bool { return f.pending[i].fireAtMs < f.pending[j].fireAtMs })
}

// PendingCount returns the number of not-yet-fired, not-canceled timers.
func (f *Fake) PendingCount() int {
	n := 0
	for _, t := range f.pending {
		if !t.canceled {
			n++
		}
	}
	return n
}
