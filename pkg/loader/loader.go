// Package loader implements the at-most-one-in-flight-per-instance load
// abstraction (component C2): it owns a single outstanding fetch, hands the
// response to a parse function, and reports one of started/completed/
// canceled/error to a Callback. Apart from the zero-delay internal retries
// granted by Request.MinRetryCount, retry and give-up decisions are made by
// the caller's Callback.OnError, so this package stays a thin, reusable I/O
// driver rather than a policy engine.
package loader

import (
	"context"
	"errors"

	"github.com/a13labs/hlstracker/pkg/clock"
	"github.com/a13labs/hlstracker/pkg/logger"
)

var log = logger.Component("loader")

// DataSource fetches raw bytes for a URI. Implementations may perform
// redirects and content negotiation internally; gzip requests transparent
// decompression when the server honors it.
type DataSource interface {
	Fetch(ctx context.Context, uri string, headers map[string]string, gzip bool) (body []byte, statusCode int, contentType string, err error)
}

// ParseFunc turns fetched bytes into a caller-defined result.
type ParseFunc func(body []byte, contentType string) (any, error)

// Request describes one load.
type Request struct {
	URL     string
	Headers map[string]string
	Gzip    bool
	Parse   ParseFunc
	// MinRetryCount is how many times the loader retries internally, without
	// consulting Callback.OnError, before an error is surfaced to it at all.
	// Callers populate this from retrypolicy.Policy.MinimumRetryCount.
	MinRetryCount int
}

// RetryDecisionKind is the outcome Callback.OnError picks.
type RetryDecisionKind int

const (
	RetryAfter RetryDecisionKind = iota
	DontRetry
	DontRetryFatal
)

// RetryDecision is returned from Callback.OnError.
type RetryDecision struct {
	Kind  RetryDecisionKind
	Delay int64 // milliseconds, meaningful only when Kind == RetryAfter
	// ResetErrorCount restarts the loader's internal error counter, used
	// when a caller judges a fresh class of error should not compound the
	// count of a previous, unrelated one.
	ResetErrorCount bool
}

// Callback receives the lifecycle events of one Loader.
type Callback interface {
	OnStarted(retryCount int)
	OnCompleted(result any, durationMs int64, byteCount int)
	OnCanceled(released bool)
	OnError(err error, errorCount int) RetryDecision
}

// Loader is a single-flight loader. All of its exported methods must be
// called from the same goroutine (the tracker's driver); its internal fetch
// runs on its own goroutine and returns through the post function supplied
// to New, which is expected to marshal back onto that same goroutine.
type Loader struct {
	ds   DataSource
	clk  clock.Clock
	post func(func())

	active      bool
	released    bool
	errorCount  int
	fatalErr    error
	cancelFetch context.CancelFunc
	retryHandle clock.Handle
}

// New returns a Loader that fetches through ds, times itself with clk, and
// delivers fetch completions to the driver via post.
func New(ds DataSource, clk clock.Clock, post func(func())) *Loader {
	return &Loader{ds: ds, clk: clk, post: post}
}

// StartLoad begins req if no load is active and the loader has not been
// released. A second call while a load is active or after Release is a
// no-op, matching the at-most-one-in-flight contract.
func (l *Loader) StartLoad(req Request, cb Callback) {
	if l.released || l.active {
		return
	}
	l.active = true
	startMs := l.clk.NowMs()
	cb.OnStarted(l.errorCount)

	fetchCtx, cancel := context.WithCancel(context.Background())
	l.cancelFetch = cancel

	go func() {
		body, status, contentType, err := l.ds.Fetch(fetchCtx, req.URL, req.Headers, req.Gzip)
		l.post(func() {
			l.onFetchDone(req, cb, startMs, body, status, contentType, err)
		})
	}()
}

func (l *Loader) onFetchDone(req Request, cb Callback, startMs int64, body []byte, status int, contentType string, err error) {
	if !l.active {
		// Released or superseded between fetch completion and delivery.
		return
	}
	l.active = false
	l.cancelFetch = nil
	durationMs := l.clk.NowMs() - startMs

	if err != nil {
		if errors.Is(err, context.Canceled) {
			cb.OnCanceled(l.released)
			return
		}
		l.reportError(req, cb, err)
		return
	}

	parsed, perr := req.Parse(body, contentType)
	if perr != nil {
		l.reportError(req, cb, perr)
		return
	}

	l.errorCount = 0
	cb.OnCompleted(parsed, durationMs, len(body))
}

func (l *Loader) reportError(req Request, cb Callback, err error) {
	l.errorCount++
	if l.errorCount <= req.MinRetryCount {
		log.Debugf("internal retry %d/%d for %s after error: %v", l.errorCount, req.MinRetryCount, req.URL, err)
		l.retryHandle = l.clk.Schedule(0, func() {
			l.retryHandle = nil
			l.StartLoad(req, cb)
		})
		return
	}
	decision := cb.OnError(err, l.errorCount)
	switch decision.Kind {
	case RetryAfter:
		if decision.ResetErrorCount {
			l.errorCount = 0
		}
		log.Debugf("retrying %s in %dms after error: %v", req.URL, decision.Delay, err)
		l.retryHandle = l.clk.Schedule(decision.Delay, func() {
			l.retryHandle = nil
			l.StartLoad(req, cb)
		})
	case DontRetryFatal:
		l.fatalErr = err
		log.Warnf("fatal load error for %s: %v", req.URL, err)
	case DontRetry:
		log.Debugf("giving up (no retry) on %s after error: %v", req.URL, err)
	}
}

// Cancel aborts the in-flight fetch, if any. The Callback receives
// OnCanceled once the abort is observed.
func (l *Loader) Cancel() {
	if l.cancelFetch != nil {
		l.cancelFetch()
	}
}

// Release cancels any in-flight load and prevents further StartLoad calls.
func (l *Loader) Release() {
	l.released = true
	if l.retryHandle != nil {
		l.retryHandle.Cancel()
		l.retryHandle = nil
	}
	l.Cancel()
}

// MaybeThrowError returns the accumulated fatal error, if any, for
// surfacing to a blocking external caller.
func (l *Loader) MaybeThrowError() error {
	return l.fatalErr
}

// IsLoading reports whether a fetch is currently in flight.
func (l *Loader) IsLoading() bool {
	return l.active
}
