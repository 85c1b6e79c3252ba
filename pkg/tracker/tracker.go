// Package tracker implements the top-level HLS playlist tracker: it
// orchestrates the bootstrap multivariant load, owns one Bundle per media
// playlist URL, selects and switches the primary variant, and fans out
// snapshot and error notifications to listeners. Every exported method is
// expected to be called from the Driver goroutine it was constructed with.
package tracker

import (
	"bytes"

	"github.com/a13labs/hlstracker/pkg/clock"
	"github.com/a13labs/hlstracker/pkg/loader"
	"github.com/a13labs/hlstracker/pkg/logger"
	"github.com/a13labs/hlstracker/pkg/m3u8"
	"github.com/a13labs/hlstracker/pkg/playlist"
	"github.com/a13labs/hlstracker/pkg/retrypolicy"
)

var trackerLog = logger.Component("tracker")

// Tracker is the top-level orchestrator (component C6).
type Tracker struct {
	drv         *Driver
	ds          loader.DataSource
	policy      retrypolicy.Policy
	stuck       float64
	snapFloorMs int64

	bootstrapURL       string
	multivariantLoader *loader.Loader
	multivariant       *playlist.Multivariant

	primaryURL               string
	primarySnap              *playlist.Snapshot
	isLiveFlag               bool
	initialStartTimeUs       int64
	firstPrimarySnapshotSeen bool

	bundles     map[string]*Bundle
	bundleOrder []string

	primaryListener      PrimaryPlaylistListener
	eventListeners       []PlaylistEventListener
	firstPrimaryListener *firstPrimaryListener

	started bool
}

// New returns a Tracker driven by drv, fetching through ds, and consulting
// policy for retry/exclusion decisions. stuckCoefficient is the multiple of
// targetDuration after which an unchanging live playlist is deemed stuck;
// pass 0 to use the default of 3.5. snapshotValidityFloorMs is the minimum
// age below which a non-VOD/EVENT snapshot is always considered valid; pass
// 0 to use the default of 30_000.
func New(drv *Driver, ds loader.DataSource, policy retrypolicy.Policy, stuckCoefficient float64, snapshotValidityFloorMs int64) *Tracker {
	if stuckCoefficient <= 0 {
		stuckCoefficient = 3.5
	}
	if snapshotValidityFloorMs <= 0 {
		snapshotValidityFloorMs = 30_000
	}
	return &Tracker{
		drv:                drv,
		ds:                 ds,
		policy:             policy,
		stuck:              stuckCoefficient,
		snapFloorMs:        snapshotValidityFloorMs,
		initialStartTimeUs: playlist.Unset,
	}
}

// --- bundleHost -------------------------------------------------------

func (t *Tracker) clock() clock.Clock                  { return t.drv.Clock() }
func (t *Tracker) dataSource() loader.DataSource       { return t.ds }
func (t *Tracker) retryPolicy() retrypolicy.Policy     { return t.policy }
func (t *Tracker) stuckCoefficient() float64           { return t.stuck }
func (t *Tracker) snapshotValidityFloorMs() int64      { return t.snapFloorMs }
func (t *Tracker) primarySnapshot() *playlist.Snapshot { return t.primarySnap }
func (t *Tracker) isPrimaryURL(url string) bool        { return url == t.primaryURL }

func (t *Tracker) onPlaylistUpdated(url string, newSnap *playlist.Snapshot) {
	if url == t.primaryURL {
		t.primarySnap = newSnap
		if !t.firstPrimarySnapshotSeen {
			t.firstPrimarySnapshotSeen = true
			t.isLiveFlag = !newSnap.HasEndTag
			t.initialStartTimeUs = newSnap.StartTimeUs
		}
		if t.primaryListener != nil {
			t.primaryListener.OnPrimaryPlaylistRefreshed(newSnap)
		}
	}
	for _, l := range t.snapshotEventListeners() {
		l.OnPlaylistChanged()
	}
}

func (t *Tracker) notifyPlaylistError(url string, err error, forceRetry bool) bool {
	declined := false
	for _, l := range t.snapshotEventListeners() {
		if l.OnPlaylistError(url, err, forceRetry) {
			declined = true
		}
	}
	return declined
}

// snapshotEventListeners returns a stable copy of the listener set so a
// listener may deregister itself (as firstPrimaryListener does) mid-fanout
// without corrupting the iteration.
func (t *Tracker) snapshotEventListeners() []PlaylistEventListener {
	cp := make([]PlaylistEventListener, len(t.eventListeners))
	copy(cp, t.eventListeners)
	return cp
}

func (t *Tracker) addEventListener(l PlaylistEventListener) {
	t.eventListeners = append(append([]PlaylistEventListener{}, t.eventListeners...), l)
}

func (t *Tracker) removeEventListener(l PlaylistEventListener) {
	next := make([]PlaylistEventListener, 0, len(t.eventListeners))
	for _, existing := range t.eventListeners {
		if existing != l {
			next = append(next, existing)
		}
	}
	t.eventListeners = next
}

func (t *Tracker) maybeSelectNewPrimaryURL() bool {
	now := t.clock().NowMs()
	for _, v := range t.multivariant.Variants {
		b := t.bundles[v.URL]
		if b == nil {
			continue
		}
		if b.ExcludeUntilMs() != playlist.Unset && b.ExcludeUntilMs() > now {
			continue
		}
		if v.URL == t.primaryURL {
			continue
		}
		t.setPrimaryURL(v.URL)
		return true
	}
	return false
}

// --- lifecycle ----------------------------------------------------------

// Start begins tracking the multivariant playlist at uri, notifying
// listener of primary snapshot refreshes.
func (t *Tracker) Start(uri string, listener PrimaryPlaylistListener) {
	if t.started {
		return
	}
	t.started = true
	t.bootstrapURL = uri
	t.primaryListener = listener

	t.firstPrimaryListener = newFirstPrimaryListener(t)
	t.addEventListener(t.firstPrimaryListener)

	t.multivariantLoader = loader.New(t.ds, t.clock(), t.drv.Post)
	req := loader.Request{
		URL:           uri,
		MinRetryCount: t.policy.MinimumRetryCount(retrypolicy.DataTypeManifest),
		Parse: func(body []byte, contentType string) (any, error) {
			return m3u8.Parse(bytes.NewReader(body), uri, nil)
		},
	}
	t.multivariantLoader.StartLoad(req, &multivariantCallback{t: t})
}

// Stop releases every bundle and the bootstrap loader, and cancels all
// pending timers and in-flight loads.
func (t *Tracker) Stop() {
	if !t.started {
		return
	}
	if t.multivariantLoader != nil {
		t.multivariantLoader.Release()
	}
	for _, b := range t.bundles {
		b.Release()
	}
	t.bundles = nil
	t.bundleOrder = nil
	t.eventListeners = nil
	t.primaryListener = nil
	t.multivariant = nil
	t.primarySnap = nil
	t.started = false
}

// RefreshPlaylist triggers a directive-eligible reload of url; idempotent
// while a load is already pending or in flight for that bundle.
func (t *Tracker) RefreshPlaylist(url string) {
	if b, ok := t.bundles[url]; ok {
		b.LoadPlaylist(true)
	}
}

// GetPlaylistSnapshot returns url's current snapshot, or nil if none has
// loaded yet. isForPlayback additionally makes url a candidate primary and
// marks its bundle active for playback, but only once a snapshot already
// exists for it.
func (t *Tracker) GetPlaylistSnapshot(url string, isForPlayback bool) *playlist.Snapshot {
	b, ok := t.bundles[url]
	if !ok {
		return nil
	}
	snap := b.Snapshot()
	if snap != nil && isForPlayback {
		t.maybeSetPrimaryURL(url)
		b.MaybeActivateForPlayback()
	}
	return snap
}

// DeactivatePlaylistForPlayback marks url no longer actively played.
func (t *Tracker) DeactivatePlaylistForPlayback(url string) {
	if b, ok := t.bundles[url]; ok {
		b.DeactivateForPlayback()
	}
}

// ExcludeMediaPlaylist excludes url for durMs and reports whether the
// exclusion actually took effect (false if url was the primary and no
// fallback variant could be promoted in its place).
func (t *Tracker) ExcludeMediaPlaylist(url string, durMs int64) bool {
	b, ok := t.bundles[url]
	if !ok {
		return false
	}
	stuckAsPrimary := b.Exclude(durMs)
	return !stuckAsPrimary
}

// MaybeThrowPrimaryPlaylistRefreshError surfaces the bootstrap loader's
// fatal error, if any, else the primary bundle's.
func (t *Tracker) MaybeThrowPrimaryPlaylistRefreshError() error {
	if t.multivariantLoader != nil {
		if err := t.multivariantLoader.MaybeThrowError(); err != nil {
			return err
		}
	}
	if b, ok := t.bundles[t.primaryURL]; ok {
		return b.MaybeThrowError()
	}
	return nil
}

// MaybeThrowPlaylistRefreshError surfaces url's bundle's fatal error.
func (t *Tracker) MaybeThrowPlaylistRefreshError(url string) error {
	if b, ok := t.bundles[url]; ok {
		return b.MaybeThrowError()
	}
	return nil
}

func (t *Tracker) IsLive() bool                                    { return t.isLiveFlag }
func (t *Tracker) GetMultivariantPlaylist() *playlist.Multivariant { return t.multivariant }
func (t *Tracker) GetInitialStartTimeUs() int64                    { return t.initialStartTimeUs }

// IsSnapshotValid reports url's bundle's snapshot validity per §4.5.
func (t *Tracker) IsSnapshotValid(url string) bool {
	b, ok := t.bundles[url]
	if !ok {
		return false
	}
	return b.IsSnapshotValid()
}

// Status is the tracker-level summary served by GET /status.
type Status struct {
	MultivariantURL    string `json:"multivariantUrl"`
	PrimaryURL         string `json:"primaryUrl"`
	IsLive             bool   `json:"isLive"`
	InitialStartTimeUs int64  `json:"initialStartTimeUs"`
}

// Status reports the tracker's current top-level state. Must be called from
// the driver goroutine.
func (t *Tracker) Status() Status {
	return Status{
		MultivariantURL:    t.bootstrapURL,
		PrimaryURL:         t.primaryURL,
		IsLive:             t.isLiveFlag,
		InitialStartTimeUs: t.initialStartTimeUs,
	}
}

// VariantStatus is one row of the GET /variants listing.
type VariantStatus struct {
	URL                  string `json:"url"`
	HasEndTag            bool   `json:"hasEndTag"`
	ExcludeUntilMs       int64  `json:"excludeUntilMs"`
	LastSnapshotChangeMs int64  `json:"lastSnapshotChangeMs"`
	ActiveForPlayback    bool   `json:"activeForPlayback"`
}

// Variants lists every known bundle in multivariant order. Must be called
// from the driver goroutine.
func (t *Tracker) Variants() []VariantStatus {
	out := make([]VariantStatus, 0, len(t.bundleOrder))
	for _, u := range t.bundleOrder {
		b, ok := t.bundles[u]
		if !ok {
			continue
		}
		hasEndTag := false
		if snap := b.Snapshot(); snap != nil {
			hasEndTag = snap.HasEndTag
		}
		out = append(out, VariantStatus{
			URL:                  u,
			HasEndTag:            hasEndTag,
			ExcludeUntilMs:       b.ExcludeUntilMs(),
			LastSnapshotChangeMs: b.LastSnapshotChangeMs(),
			ActiveForPlayback:    b.ActiveForPlayback(),
		})
	}
	return out
}

// SnapshotFor returns url's current snapshot without the playback-activation
// side effects of GetPlaylistSnapshot, for read-only introspection. Must be
// called from the driver goroutine.
func (t *Tracker) SnapshotFor(url string) (*playlist.Snapshot, bool) {
	b, ok := t.bundles[url]
	if !ok {
		return nil, false
	}
	return b.Snapshot(), true
}

// --- primary selection ---------------------------------------------------

func (t *Tracker) maybeSetPrimaryURL(url string) {
	if url == t.primaryURL {
		return
	}
	if !t.isReferencedMediaURL(url) {
		return
	}
	if t.primarySnap != nil && t.primarySnap.HasEndTag {
		return
	}
	t.setPrimaryURL(url)
}

func (t *Tracker) setPrimaryURL(url string) {
	prevPrimarySnap := t.primarySnap
	t.primaryURL = url
	newBundle := t.bundles[url]
	if newBundle == nil {
		return
	}
	if snap := newBundle.Snapshot(); snap != nil && snap.HasEndTag {
		t.primarySnap = snap
		if !t.firstPrimarySnapshotSeen {
			t.firstPrimarySnapshotSeen = true
			t.isLiveFlag = !snap.HasEndTag
			t.initialStartTimeUs = snap.StartTimeUs
		}
		if t.primaryListener != nil {
			t.primaryListener.OnPrimaryPlaylistRefreshed(snap)
		}
		return
	}
	blocking := prevPrimarySnap != nil && prevPrimarySnap.ServerControl.CanBlockReload
	newBundle.LoadPlaylistFromURL(playlist.PrimaryChangeURI(url, prevPrimarySnap), blocking)
}

func (t *Tracker) isReferencedMediaURL(url string) bool {
	_, ok := t.bundles[url]
	return ok
}

// --- bootstrap load callback ---------------------------------------------

func (t *Tracker) createBundles(mv *playlist.Multivariant) {
	t.bundles = make(map[string]*Bundle, len(mv.MediaPlaylistURLs))
	t.bundleOrder = append([]string{}, mv.MediaPlaylistURLs...)
	for _, u := range mv.MediaPlaylistURLs {
		t.bundles[u] = NewBundle(u, t, t.ds, t.drv.Post)
	}
}

func (t *Tracker) onMultivariantLoaded(result *m3u8.Result) {
	var mv *playlist.Multivariant
	var bootstrapMedia *playlist.Snapshot

	if result.Multivariant != nil {
		mv = result.Multivariant
	} else {
		mv = playlist.SingleVariant(t.bootstrapURL)
		bootstrapMedia = result.Media
	}

	t.multivariant = mv
	t.primaryURL = mv.Variants[0].URL
	t.createBundles(mv)

	if bootstrapMedia != nil {
		if b, ok := t.bundles[t.bootstrapURL]; ok {
			b.seedInitialSnapshot(bootstrapMedia, t.clock().NowMs())
		}
		return
	}

	if primary, ok := t.bundles[t.primaryURL]; ok {
		primary.LoadPlaylist(false)
	}
}

func (t *Tracker) onMultivariantError(err error, errorCount int) loader.RetryDecision {
	trackerLog.Warnf("multivariant load error for %s: %v", t.bootstrapURL, err)
	delay := t.policy.RetryDelayMs(retrypolicy.LoadErrorInfo{
		URL: t.bootstrapURL, Type: retrypolicy.DataTypeManifest, Err: err, ErrorCount: errorCount,
	})
	if delay == playlist.Unset {
		return loader.RetryDecision{Kind: loader.DontRetryFatal}
	}
	return loader.RetryDecision{Kind: loader.RetryAfter, Delay: delay}
}

// multivariantCallback adapts loader.Callback to the tracker's bootstrap
// fetch, kept distinct from Bundle since its OnCompleted payload is an
// *m3u8.Result rather than a *playlist.Snapshot.
type multivariantCallback struct {
	t *Tracker
}

func (c *multivariantCallback) OnStarted(retryCount int) {}

func (c *multivariantCallback) OnCompleted(result any, durationMs int64, byteCount int) {
	c.t.onMultivariantLoaded(result.(*m3u8.Result))
}

func (c *multivariantCallback) OnCanceled(released bool) {}

func (c *multivariantCallback) OnError(err error, errorCount int) loader.RetryDecision {
	return c.t.onMultivariantError(err, errorCount)
}
