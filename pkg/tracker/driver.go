package tracker

import (
	"github.com/a13labs/hlstracker/pkg/clock"
)

// Driver is the single goroutine every tracker state transition, timer
// callback, and loader callback runs on. Nothing outside the driver mutates
// a Tracker's or Bundle's fields, so none of them need their own locking;
// see the concurrency notes on Tracker.
type Driver struct {
	clk  clock.Clock
	cmds chan func()
	quit chan struct{}
	done chan struct{}
}

// NewDriver returns a Driver backed by clk. Call Run to start consuming
// posted work; Post is safe to call from any goroutine, including before
// Run starts (the channel buffers up to a small burst).
func NewDriver(clk clock.Clock) *Driver {
	return &Driver{
		clk:  clk,
		cmds: make(chan func(), 64),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Post enqueues fn to run on the driver goroutine. Safe from any goroutine.
func (d *Driver) Post(fn func()) {
	select {
	case d.cmds <- fn:
	case <-d.quit:
	}
}

// Clock returns a clock.Clock whose Schedule callbacks are delivered
// through Post, so they observe the driver's serialization guarantee even
// though the underlying implementation (clock.System) fires on its own
// goroutine.
func (d *Driver) Clock() clock.Clock {
	return &postingClock{inner: d.clk, post: d.Post}
}

// Run consumes posted work until Stop is called. It blocks the calling
// goroutine; callers typically run it in its own goroutine.
func (d *Driver) Run() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.cmds:
			fn()
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// drain executes any work already queued before Stop was observed, so a
// Post that raced with Stop is not silently dropped mid-callback-chain.
func (d *Driver) drain() {
	for {
		select {
		case fn := <-d.cmds:
			fn()
		default:
			return
		}
	}
}

// Stop signals Run to return after draining queued work, then blocks until
// it has.
func (d *Driver) Stop() {
	close(d.quit)
	<-d.done
}

// postingClock wraps a clock.Clock so every scheduled callback is delivered
// through post instead of firing directly on whatever goroutine the
// underlying clock uses.
type postingClock struct {
	inner clock.Clock
	post  func(func())
}

func (p *postingClock) NowMs() int64 {
	return p.inner.NowMs()
}

func (p *postingClock) Schedule(delayMs int64, cb func()) clock.Handle {
	return p.inner.Schedule(delayMs, func() {
		p.post(cb)
	})
}
