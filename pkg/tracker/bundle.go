package tracker

import (
	"bytes"
	"errors"

	"github.com/a13labs/hlstracker/pkg/clock"
	"github.com/a13labs/hlstracker/pkg/loader"
	"github.com/a13labs/hlstracker/pkg/logger"
	"github.com/a13labs/hlstracker/pkg/m3u8"
	"github.com/a13labs/hlstracker/pkg/playlist"
	"github.com/a13labs/hlstracker/pkg/retrypolicy"
)

var bundleLog = logger.Component("bundle")

// BundleState is the media playlist bundle's coarse lifecycle state.
type BundleState int

const (
	BundleIdle BundleState = iota
	BundleWaiting
	BundleLoading
	BundleExcluded
	BundleTerminal
)

// bundleHost is the handle a Bundle uses to reach the Tracker that owns it,
// so bundles never hold a raw pointer to each other or to the tracker's
// full state, only the callback surface they actually need.
type bundleHost interface {
	clock() clock.Clock
	dataSource() loader.DataSource
	retryPolicy() retrypolicy.Policy
	stuckCoefficient() float64
	snapshotValidityFloorMs() int64
	primarySnapshot() *playlist.Snapshot
	isPrimaryURL(url string) bool
	onPlaylistUpdated(url string, snap *playlist.Snapshot)
	notifyPlaylistError(url string, err error, forceRetry bool) (declinedExclusion bool)
	maybeSelectNewPrimaryURL() (promoted bool)
}

// Bundle is the per-media-playlist-URL state machine (component C5): it
// owns a Loader, schedules reloads, tracks validity and exclusion, and
// detects stuck and reset conditions.
type Bundle struct {
	url  string
	host bundleHost
	ld   *loader.Loader

	state BundleState

	snapshot             *playlist.Snapshot
	lastSnapshotLoadMs   int64
	lastSnapshotChangeMs int64
	earliestNextLoadMs   int64
	excludeUntilMs       int64
	loadPending          bool
	playlistError        error
	fatalErr             error
	activeForPlayback    bool

	waitTimer clock.Handle

	pendingRequestBlocking bool
}

// NewBundle constructs a Bundle for url, owned by host, fetching through ds
// and delivering loader completions via post.
func NewBundle(url string, host bundleHost, ds loader.DataSource, post func(func())) *Bundle {
	b := &Bundle{
		url:                  url,
		host:                 host,
		lastSnapshotLoadMs:   playlist.Unset,
		lastSnapshotChangeMs: playlist.Unset,
		excludeUntilMs:       playlist.Unset,
	}
	b.ld = loader.New(ds, host.clock(), post)
	return b
}

// URL returns the bundle's media playlist URL.
func (b *Bundle) URL() string { return b.url }

// Snapshot returns the current snapshot, or nil if none has loaded yet.
func (b *Bundle) Snapshot() *playlist.Snapshot { return b.snapshot }

// PlaylistError returns the most recently recorded non-fatal playlist
// error (reset or stuck), if any.
func (b *Bundle) PlaylistError() error { return b.playlistError }

// State returns the bundle's current lifecycle state.
func (b *Bundle) State() BundleState { return b.state }

// ExcludeUntilMs returns the timestamp until which this bundle should be
// skipped by fallback selection, or playlist.Unset if not excluded.
func (b *Bundle) ExcludeUntilMs() int64 { return b.excludeUntilMs }

// LastSnapshotChangeMs returns the timestamp of the last snapshot content
// change, or playlist.Unset if none has ever changed.
func (b *Bundle) LastSnapshotChangeMs() int64 { return b.lastSnapshotChangeMs }

// ActiveForPlayback reports whether a player is currently using this
// bundle's playlist, per MaybeActivateForPlayback/DeactivateForPlayback.
func (b *Bundle) ActiveForPlayback() bool { return b.activeForPlayback }

// IsExcludedNow reports whether the bundle is currently within its
// exclusion window.
func (b *Bundle) IsExcludedNow() bool {
	return b.excludeUntilMs != playlist.Unset && b.excludeUntilMs > b.host.clock().NowMs()
}

// LoadPlaylist requests a reload. allowDirectives controls whether the
// request may carry RFC 8216 delivery directives (blocking/skip/part).
func (b *Bundle) LoadPlaylist(allowDirectives bool) {
	b.deferOrRun(func() {
		b.beginLoad(playlist.ReloadURI(b.url, b.snapshot, allowDirectives), allowDirectives && b.snapshot != nil && b.snapshot.ServerControl.CanBlockReload)
	})
}

// LoadPlaylistFromURL reloads using an explicit URL, for the primary-change
// reload described in §4.5 (built from the outgoing primary's rendition
// report rather than this bundle's own snapshot).
func (b *Bundle) LoadPlaylistFromURL(reloadURL string, blocking bool) {
	b.deferOrRun(func() {
		b.beginLoad(reloadURL, blocking)
	})
}

// deferOrRun applies the Waiting-state gating shared by every load trigger:
// if it is too soon to reload, schedule fn for when earliestNextLoadMs
// arrives instead of running it now.
func (b *Bundle) deferOrRun(fn func()) {
	if b.state == BundleLoading || b.loadPending || b.fatalErr != nil {
		return
	}
	now := b.host.clock().NowMs()
	if now < b.earliestNextLoadMs {
		delay := b.earliestNextLoadMs - now
		b.loadPending = true
		b.state = BundleWaiting
		b.waitTimer = b.host.clock().Schedule(delay, func() {
			b.loadPending = false
			b.waitTimer = nil
			fn()
		})
		return
	}
	fn()
}

func (b *Bundle) beginLoad(reloadURL string, blocking bool) {
	b.excludeUntilMs = playlist.Unset
	b.state = BundleLoading
	b.pendingRequestBlocking = blocking

	prevSnapshot := b.snapshot
	req := loader.Request{
		URL:           reloadURL,
		MinRetryCount: b.host.retryPolicy().MinimumRetryCount(retrypolicy.DataTypeManifest),
		Parse: func(body []byte, contentType string) (any, error) {
			result, err := m3u8.Parse(bytes.NewReader(body), b.url, prevSnapshot)
			if err != nil {
				return nil, err
			}
			if result.Media == nil {
				return nil, &UnexpectedResultTypeError{URL: b.url}
			}
			return result.Media, nil
		},
	}
	b.ld.StartLoad(req, b)
}

// seedInitialSnapshot installs a snapshot obtained without a Loader round
// trip: the bootstrap fetch turned out to be a media playlist directly, so
// the tracker synthesizes a single-variant multivariant and hands this
// bundle the already-parsed result instead of fetching it twice.
func (b *Bundle) seedInitialSnapshot(loaded *playlist.Snapshot, now int64) {
	newSnapshot := playlist.Reconcile(nil, loaded, b.host.primarySnapshot())
	b.snapshot = newSnapshot
	b.lastSnapshotLoadMs = now
	b.lastSnapshotChangeMs = now
	b.earliestNextLoadMs = now + b.nextLoadDelayMs(nil, newSnapshot)
	b.host.onPlaylistUpdated(b.url, newSnapshot)

	if newSnapshot.HasEndTag {
		b.state = BundleTerminal
		return
	}
	b.state = BundleIdle
	if b.host.isPrimaryURL(b.url) || b.activeForPlayback {
		b.LoadPlaylist(true)
	}
}

// OnStarted implements loader.Callback.
func (b *Bundle) OnStarted(retryCount int) {
	bundleLog.Debugf("%s: load started (retry %d)", b.url, retryCount)
}

// OnCompleted implements loader.Callback.
func (b *Bundle) OnCompleted(result any, durationMs int64, byteCount int) {
	loaded := result.(*playlist.Snapshot)
	now := b.host.clock().NowMs()
	b.lastSnapshotLoadMs = now

	old := b.snapshot
	newSnapshot := playlist.Reconcile(old, loaded, b.host.primarySnapshot())

	if newSnapshot != old {
		b.playlistError = nil
		b.lastSnapshotChangeMs = now
		b.snapshot = newSnapshot
		b.host.onPlaylistUpdated(b.url, newSnapshot)
	} else if !newSnapshot.HasEndTag {
		b.detectResetAndStuck(loaded, newSnapshot, now)
	}

	delayMs := b.nextLoadDelayMs(old, newSnapshot)
	b.earliestNextLoadMs = now + delayMs - durationMs

	if newSnapshot.HasEndTag {
		b.state = BundleTerminal
		return
	}
	b.state = BundleIdle
	if b.host.isPrimaryURL(b.url) || b.activeForPlayback {
		b.LoadPlaylist(true)
	}
}

func (b *Bundle) detectResetAndStuck(loaded, current *playlist.Snapshot, now int64) {
	if int64(loaded.MediaSequence)+int64(len(loaded.Segments)) < int64(current.MediaSequence) {
		b.playlistError = &PlaylistResetError{URL: b.url}
		b.host.notifyPlaylistError(b.url, b.playlistError, true)
		return
	}
	targetMs := current.TargetDurationMs()
	if targetMs <= 0 || b.lastSnapshotChangeMs == playlist.Unset {
		return
	}
	sinceChange := now - b.lastSnapshotChangeMs
	if float64(sinceChange) > float64(targetMs)*b.host.stuckCoefficient() {
		b.playlistError = &PlaylistStuckError{URL: b.url, SinceChangeMs: sinceChange, TargetDurationMs: targetMs}
		b.host.notifyPlaylistError(b.url, b.playlistError, false)
	}
}

// nextLoadDelayMs implements the §4.5 reload cadence rules.
func (b *Bundle) nextLoadDelayMs(old, current *playlist.Snapshot) int64 {
	changed := current != old
	sc := current.ServerControl

	if !sc.CanBlockReload {
		if changed {
			return current.TargetDurationMs()
		}
		return current.TargetDurationMs() / 2
	}
	if !changed {
		if current.PartTargetDurationUs != playlist.Unset {
			return current.PartTargetDurationUs / 1000 / 2
		}
		return current.TargetDurationMs() / 2
	}
	return 0
}

// OnCanceled implements loader.Callback.
func (b *Bundle) OnCanceled(released bool) {
	if b.state == BundleLoading {
		b.state = BundleIdle
	}
}

// OnError implements loader.Callback.
func (b *Bundle) OnError(err error, errorCount int) loader.RetryDecision {
	if isMalformedManifestError(err) {
		b.playlistError = err
		b.state = BundleIdle
		return loader.RetryDecision{Kind: loader.DontRetry}
	}

	if b.shouldForceNonDirectiveReload(err) {
		b.earliestNextLoadMs = b.host.clock().NowMs()
		b.state = BundleIdle
		b.LoadPlaylist(false)
		return loader.RetryDecision{Kind: loader.DontRetry}
	}

	declinedExclusion := b.host.notifyPlaylistError(b.url, err, false)
	b.state = BundleIdle
	if !declinedExclusion {
		return loader.RetryDecision{Kind: loader.DontRetry}
	}

	delay := b.host.retryPolicy().RetryDelayMs(retrypolicy.LoadErrorInfo{
		URL: b.url, Type: retrypolicy.DataTypeManifest, Err: err, ErrorCount: errorCount,
	})
	if delay == playlist.Unset {
		b.fatalErr = err
		return loader.RetryDecision{Kind: loader.DontRetryFatal}
	}
	return loader.RetryDecision{Kind: loader.RetryAfter, Delay: delay}
}

func (b *Bundle) shouldForceNonDirectiveReload(err error) bool {
	var deltaErr *m3u8.DeltaUpdateError
	if errors.As(err, &deltaErr) {
		return true
	}
	var statusErr *loader.HTTPStatusError
	if b.pendingRequestBlocking && errors.As(err, &statusErr) {
		return statusErr.Code == 400 || statusErr.Code == 503
	}
	return false
}

func isMalformedManifestError(err error) bool {
	var malformed *m3u8.MalformedManifestError
	if errors.As(err, &malformed) {
		return true
	}
	var unexpected *UnexpectedResultTypeError
	return errors.As(err, &unexpected)
}

// Exclude marks this bundle unavailable for durMs. It returns true iff the
// bundle is the primary and no fallback could be promoted in its place;
// Tracker.ExcludeMediaPlaylist inverts this into its own isExcluded result.
func (b *Bundle) Exclude(durMs int64) bool {
	now := b.host.clock().NowMs()
	b.excludeUntilMs = now + durMs
	b.state = BundleExcluded
	if !b.host.isPrimaryURL(b.url) {
		return false
	}
	promoted := b.host.maybeSelectNewPrimaryURL()
	return !promoted
}

// IsSnapshotValid implements the §4.5 validity rule.
func (b *Bundle) IsSnapshotValid() bool {
	if b.snapshot == nil {
		return false
	}
	if b.snapshot.HasEndTag || b.snapshot.PlaylistType == playlist.TypeEvent || b.snapshot.PlaylistType == playlist.TypeVOD {
		return true
	}
	floor := b.host.snapshotValidityFloorMs()
	if d := b.snapshot.DurationMs(); d > floor {
		floor = d
	}
	return b.lastSnapshotLoadMs+floor > b.host.clock().NowMs()
}

// MaybeActivateForPlayback marks the bundle active for playback and, the
// first time this happens, kicks off its reload loop — unless the current
// snapshot already carries an end tag, in which case there is nothing left
// to reload until an explicit RefreshPlaylist.
func (b *Bundle) MaybeActivateForPlayback() {
	if b.activeForPlayback {
		return
	}
	b.activeForPlayback = true
	if b.snapshot != nil && !b.snapshot.HasEndTag {
		b.LoadPlaylist(true)
	}
}

// DeactivateForPlayback stops treating the bundle as actively played,
// so it no longer self-reschedules once its in-flight load completes.
func (b *Bundle) DeactivateForPlayback() {
	b.activeForPlayback = false
}

// Release cancels any pending timer and in-flight load, and prevents
// further loads.
func (b *Bundle) Release() {
	if b.waitTimer != nil {
		b.waitTimer.Cancel()
		b.waitTimer = nil
	}
	b.ld.Release()
}

// MaybeThrowError returns the bundle's accumulated fatal error, if any.
func (b *Bundle) MaybeThrowError() error {
	return b.fatalErr
}
