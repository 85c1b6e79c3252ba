package tracker

import (
	"github.com/a13labs/hlstracker/pkg/playlist"
	"github.com/a13labs/hlstracker/pkg/retrypolicy"
)

// PrimaryPlaylistListener is notified whenever the primary variant's
// snapshot is refreshed.
type PrimaryPlaylistListener interface {
	OnPrimaryPlaylistRefreshed(snap *playlist.Snapshot)
}

// PlaylistEventListener is notified of every playlist change and error,
// primary or not. OnPlaylistError returns true if the listener declines to
// have the offending playlist excluded.
type PlaylistEventListener interface {
	OnPlaylistChanged()
	OnPlaylistError(url string, err error, forceRetry bool) (excludedOk bool)
}

// firstPrimaryListener is the transient bootstrap listener (component C7):
// installed at Start, it excludes a struggling primary before any snapshot
// has arrived, and removes itself the moment any playlist changes.
type firstPrimaryListener struct {
	t *Tracker
}

func newFirstPrimaryListener(t *Tracker) *firstPrimaryListener {
	return &firstPrimaryListener{t: t}
}

func (l *firstPrimaryListener) OnPlaylistChanged() {
	l.t.removeEventListener(l)
}

func (l *firstPrimaryListener) OnPlaylistError(url string, err error, forceRetry bool) bool {
	if l.t.primarySnap != nil {
		return false
	}
	total := len(l.t.bundleOrder)
	excluded := 0
	now := l.t.clock().NowMs()
	for _, u := range l.t.bundleOrder {
		if b := l.t.bundles[u]; b != nil && b.ExcludeUntilMs() != playlist.Unset && b.ExcludeUntilMs() > now {
			excluded++
		}
	}
	selection := l.t.policy.FallbackSelectionFor(
		retrypolicy.FallbackOptions{TotalLocations: 1, ExcludedLocations: 0, TotalTracks: total, ExcludedTracks: excluded},
		retrypolicy.LoadErrorInfo{URL: url, Type: retrypolicy.DataTypeManifest, Err: err},
	)
	if selection != nil && selection.Type == retrypolicy.FallbackTrack {
		if !l.t.ExcludeMediaPlaylist(url, selection.ExclusionDurationMs) {
			// Exclusion could not move the primary away: no other variant was
			// available, so the error persists on the bundle itself.
			if b := l.t.bundles[url]; b != nil {
				b.fatalErr = err
			}
		}
		return false
	}
	// No spare variant to exclude to; the error persists the same way.
	if b := l.t.bundles[url]; b != nil {
		b.fatalErr = err
	}
	return false
}
