package tracker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/a13labs/hlstracker/pkg/clock"
	"github.com/a13labs/hlstracker/pkg/playlist"
	"github.com/a13labs/hlstracker/pkg/retrypolicy"
)

// scriptedDataSource replays a scripted body (or error) per URL, recording
// every fetch in call order so tests can assert on request URLs including
// any delivery directives the tracker attached.
type scriptedDataSource struct {
	mu       sync.Mutex
	scripts  map[string][]scriptedResponse
	calls    []string
	fallback *scriptedResponse
}

type scriptedResponse struct {
	body string
	err  error
}

func newScriptedDataSource() *scriptedDataSource {
	return &scriptedDataSource{scripts: map[string][]scriptedResponse{}}
}

func (s *scriptedDataSource) enqueue(url, body string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[url] = append(s.scripts[url], scriptedResponse{body: body, err: err})
}

func (s *scriptedDataSource) Fetch(ctx context.Context, uri string, headers map[string]string, gzip bool) ([]byte, int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, uri)

	base := stripQuery(uri)
	queue := s.scripts[base]
	var r scriptedResponse
	if len(queue) > 0 {
		r = queue[0]
		s.scripts[base] = queue[1:]
	} else if s.fallback != nil {
		r = *s.fallback
	} else {
		return nil, 0, "", errors.New("no scripted response for " + uri)
	}
	if r.err != nil {
		return nil, 0, "", r.err
	}
	return []byte(r.body), 200, "application/vnd.apple.mpegurl", nil
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// runningDriver starts a Driver on its own goroutine and returns it plus a
// helper that runs fn on the driver goroutine and blocks until it finishes,
// so tests can safely touch fake-clock/tracker state without racing the
// loader's fetch-completion posts.
type runningDriver struct {
	drv *Driver
}

func startDriver(t *testing.T, clk clock.Clock) *runningDriver {
	t.Helper()
	drv := NewDriver(clk)
	go drv.Run()
	t.Cleanup(drv.Stop)
	return &runningDriver{drv: drv}
}

func (r *runningDriver) sync(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	r.drv.Post(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for driver")
	}
}

type recordingPrimaryListener struct {
	refreshed chan struct{}
}

func newRecordingPrimaryListener() *recordingPrimaryListener {
	return &recordingPrimaryListener{refreshed: make(chan struct{}, 16)}
}

func (l *recordingPrimaryListener) OnPrimaryPlaylistRefreshed(snap *playlist.Snapshot) {
	select {
	case l.refreshed <- struct{}{}:
	default:
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for expected event")
	}
}

const vodMultivariant = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1000000
media.m3u8
`

const vodMedia = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:0
#EXT-X-PLAYLIST-TYPE:VOD
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
#EXT-X-ENDLIST
`

func TestTrackerStartLoadsVODEndToEnd(t *testing.T) {
	ds := newScriptedDataSource()
	ds.enqueue("https://example.com/master.m3u8", vodMultivariant, nil)
	ds.enqueue("https://example.com/media.m3u8", vodMedia, nil)

	clk := clock.NewFake(0)
	rd := startDriver(t, clk)
	tr := New(rd.drv, ds, retrypolicy.NewDefault(), 0, 0)
	listener := newRecordingPrimaryListener()

	rd.sync(t, func() {
		tr.Start("https://example.com/master.m3u8", listener)
	})

	waitFor(t, listener.refreshed)

	rd.sync(t, func() {
		if !tr.IsSnapshotValid("https://example.com/media.m3u8") {
			t.Fatalf("expected VOD snapshot to be valid")
		}
		if tr.IsLive() {
			t.Fatalf("expected VOD playlist to report non-live")
		}
	})
}

const liveMediaV1 = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:6.0,
seg10.ts
`

const liveMediaV2 = `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXT-X-MEDIA-SEQUENCE:11
#EXTINF:6.0,
seg11.ts
`

func TestTrackerLiveReloadsAfterTargetDuration(t *testing.T) {
	ds := newScriptedDataSource()
	ds.enqueue("https://example.com/master.m3u8", vodMultivariant, nil)
	ds.enqueue("https://example.com/media.m3u8", liveMediaV1, nil)
	ds.enqueue("https://example.com/media.m3u8", liveMediaV2, nil)
	ds.fallback = &scriptedResponse{body: liveMediaV2}

	clk := clock.NewFake(0)
	rd := startDriver(t, clk)
	tr := New(rd.drv, ds, retrypolicy.NewDefault(), 0, 0)
	listener := newRecordingPrimaryListener()

	rd.sync(t, func() { tr.Start("https://example.com/master.m3u8", listener) })
	waitFor(t, listener.refreshed)

	rd.sync(t, func() { clk.Advance(6_000) })
	waitFor(t, listener.refreshed)

	rd.sync(t, func() {
		snap := tr.GetPlaylistSnapshot("https://example.com/media.m3u8", false)
		if snap == nil || snap.MediaSequence != 11 {
			t.Fatalf("expected reload to observe mediaSequence 11, got %+v", snap)
		}
	})
}

func TestTrackerPrimaryFailoverExcludesAndPromotes(t *testing.T) {
	const master = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1000000
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000
high.m3u8
`
	ds := newScriptedDataSource()
	ds.enqueue("https://example.com/master.m3u8", master, nil)
	ds.enqueue("https://example.com/low.m3u8", "", errors.New("connection reset"))
	ds.fallback = &scriptedResponse{body: vodMedia}

	clk := clock.NewFake(0)
	rd := startDriver(t, clk)
	policy := retrypolicy.NewDefault()
	policy.MinRetryCountManifest = 0
	tr := New(rd.drv, ds, policy, 0, 0)
	listener := newRecordingPrimaryListener()

	rd.sync(t, func() { tr.Start("https://example.com/master.m3u8", listener) })
	waitFor(t, listener.refreshed)

	rd.sync(t, func() {
		snap := tr.GetPlaylistSnapshot("https://example.com/high.m3u8", true)
		if snap == nil {
			t.Fatalf("expected fallback variant to have loaded a snapshot")
		}
	})
}
