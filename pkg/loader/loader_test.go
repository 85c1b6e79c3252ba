package loader

import (
	"context"
	"errors"
	"testing"

	"github.com/a13labs/hlstracker/pkg/clock"
)

// fakeDataSource replays a scripted sequence of responses, one per call.
type fakeDataSource struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	body        []byte
	contentType string
	err         error
}

func (f *fakeDataSource) Fetch(ctx context.Context, uri string, headers map[string]string, gzip bool) ([]byte, int, string, error) {
	r := f.responses[f.calls]
	f.calls++
	if r.err != nil {
		return nil, 0, "", r.err
	}
	return r.body, 200, r.contentType, nil
}

// syncPost runs posted work inline, since these tests don't exercise real
// concurrency between the fetch goroutine and the driver.
func syncPost(fn func()) { fn() }

type recordingCallback struct {
	starts     []int
	completed  []any
	canceled   []bool
	errors     []error
	nextDecide func(err error, errorCount int) RetryDecision
}

func (c *recordingCallback) OnStarted(retryCount int) {
	c.starts = append(c.starts, retryCount)
}

func (c *recordingCallback) OnCompleted(result any, durationMs int64, byteCount int) {
	c.completed = append(c.completed, result)
}

func (c *recordingCallback) OnCanceled(released bool) {
	c.canceled = append(c.canceled, released)
}

func (c *recordingCallback) OnError(err error, errorCount int) RetryDecision {
	c.errors = append(c.errors, err)
	if c.nextDecide != nil {
		return c.nextDecide(err, errorCount)
	}
	return RetryDecision{Kind: DontRetry}
}

func TestLoaderCompletesSuccessfully(t *testing.T) {
	ds := &fakeDataSource{responses: []fakeResponse{{body: []byte("hello"), contentType: "text/plain"}}}
	clk := clock.NewFake(0)
	l := New(ds, clk, syncPost)
	cb := &recordingCallback{}

	done := make(chan struct{})
	req := Request{
		URL: "https://example.com/x",
		Parse: func(body []byte, contentType string) (any, error) {
			return string(body), nil
		},
	}
	l.StartLoad(req, wrapDone(cb, done))

	<-done

	if len(cb.completed) != 1 || cb.completed[0] != "hello" {
		t.Fatalf("completed = %v, want [hello]", cb.completed)
	}
	if l.IsLoading() {
		t.Fatalf("expected loader idle after completion")
	}
}

// wrapDone wraps a Callback so the test can block until OnCompleted/OnError/
// OnCanceled fires, since StartLoad's fetch happens on its own goroutine
// even with a synchronous post.
type doneCallback struct {
	*recordingCallback
	done chan struct{}
}

func (d *doneCallback) OnCompleted(result any, durationMs int64, byteCount int) {
	d.recordingCallback.OnCompleted(result, durationMs, byteCount)
	close(d.done)
}

func (d *doneCallback) OnCanceled(released bool) {
	d.recordingCallback.OnCanceled(released)
	close(d.done)
}

func (d *doneCallback) OnError(err error, errorCount int) RetryDecision {
	decision := d.recordingCallback.OnError(err, errorCount)
	if decision.Kind != RetryAfter {
		close(d.done)
	}
	return decision
}

func wrapDone(cb *recordingCallback, done chan struct{}) Callback {
	return &doneCallback{recordingCallback: cb, done: done}
}

func TestLoaderRejectsSecondStartWhileActive(t *testing.T) {
	ds := &fakeDataSource{responses: []fakeResponse{{body: []byte("a")}, {body: []byte("b")}}}
	clk := clock.NewFake(0)
	l := New(ds, clk, func(func()) {}) // never deliver, so the first load stays "active"
	cb := &recordingCallback{}
	req := Request{URL: "https://example.com/x", Parse: func(b []byte, ct string) (any, error) { return b, nil }}

	l.StartLoad(req, cb)
	l.StartLoad(req, cb)

	if len(cb.starts) != 1 {
		t.Fatalf("OnStarted called %d times, want 1", len(cb.starts))
	}
}

func TestLoaderFatalErrorSurfacedViaMaybeThrowError(t *testing.T) {
	ds := &fakeDataSource{responses: []fakeResponse{{err: errors.New("boom")}}}
	clk := clock.NewFake(0)
	l := New(ds, clk, syncPost)
	done := make(chan struct{})
	cb := &recordingCallback{nextDecide: func(err error, errorCount int) RetryDecision {
		return RetryDecision{Kind: DontRetryFatal}
	}}

	l.StartLoad(Request{URL: "https://example.com/x", Parse: func(b []byte, ct string) (any, error) { return b, nil }}, wrapDone(cb, done))
	<-done

	if l.MaybeThrowError() == nil {
		t.Fatalf("expected fatal error to be recorded")
	}
}

func TestLoaderMinRetryCountRetriesInternallyBeforeOnError(t *testing.T) {
	ds := &fakeDataSource{responses: []fakeResponse{
		{err: errors.New("first failure")},
		{body: []byte("ok"), contentType: "text/plain"},
	}}
	clk := clock.NewFake(0)
	posted := make(chan func(), 4)
	l := New(ds, clk, func(fn func()) { posted <- fn })
	cb := &recordingCallback{}
	req := Request{
		URL:           "https://example.com/x",
		MinRetryCount: 1,
		Parse:         func(b []byte, ct string) (any, error) { return string(b), nil },
	}

	l.StartLoad(req, cb)
	(<-posted)() // deliver the first fetch's failure

	if len(cb.errors) != 0 {
		t.Fatalf("OnError called with %d errors seen, want 0 while within MinRetryCount", len(cb.errors))
	}

	clk.Advance(0) // fires the internal retry's zero-delay timer
	(<-posted)()   // deliver the second fetch's completion

	if len(cb.errors) != 0 {
		t.Fatalf("OnError should not be called when the internal retry succeeds")
	}
	if len(cb.completed) != 1 || cb.completed[0] != "ok" {
		t.Fatalf("completed = %v, want [ok]", cb.completed)
	}
}

func TestLoaderReleasePreventsFurtherStarts(t *testing.T) {
	ds := &fakeDataSource{responses: []fakeResponse{{body: []byte("a")}}}
	clk := clock.NewFake(0)
	l := New(ds, clk, syncPost)
	l.Release()

	cb := &recordingCallback{}
	l.StartLoad(Request{URL: "https://example.com/x", Parse: func(b []byte, ct string) (any, error) { return b, nil }}, cb)

	if len(cb.starts) != 0 {
		t.Fatalf("expected no start after Release, got %d", len(cb.starts))
	}
}
