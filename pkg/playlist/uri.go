package playlist

import (
	"net/url"
	"strconv"
)

// Delivery directive query parameter names, per RFC 8216 §6.2.5.
const (
	blockMsnParam  = "_HLS_msn"
	blockPartParam = "_HLS_part"
	skipParam      = "_HLS_skip"
)

// ReloadURI builds the URI a bundle should request next. snapshot is the
// bundle's current snapshot (nil if none has loaded yet); allowDirectives
// mirrors the bundle's loadPlaylist(allowDirectives) flag.
func ReloadURI(rawURL string, snapshot *Snapshot, allowDirectives bool) string {
	if !allowDirectives || snapshot == nil {
		return rawURL
	}
	sc := snapshot.ServerControl
	if sc.SkipUntilUs == Unset && !sc.CanBlockReload {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()

	if sc.CanBlockReload {
		msn := snapshot.MediaSequence + uint64(len(snapshot.Segments))
		q.Set(blockMsnParam, strconv.FormatUint(msn, 10))
		if snapshot.PartTargetDurationUs != Unset {
			q.Set(blockPartParam, strconv.Itoa(trailingPartIndex(snapshot)))
		}
	}
	if sc.SkipUntilUs != Unset {
		if sc.CanSkipDateRanges {
			q.Set(skipParam, "v2")
		} else {
			q.Set(skipParam, "YES")
		}
	}

	u.RawQuery = q.Encode()
	return u.String()
}

// trailingPartIndex returns the part count to request, ignoring a trailing
// preload hint part: only the very last part may be a preload hint, and it
// is never itself available to block on.
func trailingPartIndex(snapshot *Snapshot) int {
	n := len(snapshot.TrailingParts)
	if n == 0 {
		return 0
	}
	if snapshot.TrailingParts[n-1].IsPreload {
		return n - 1
	}
	return n
}

// PrimaryChangeURI builds the reload URI to use when a new primary URL is
// promoted, per the rendition-report-based time-shift described in §4.5.
// prevPrimarySnapshot is the outgoing primary's snapshot (nil if none), and
// newURL is the URL being promoted.
func PrimaryChangeURI(newURL string, prevPrimarySnapshot *Snapshot) string {
	if prevPrimarySnapshot == nil || !prevPrimarySnapshot.ServerControl.CanBlockReload {
		return newURL
	}
	report, ok := prevPrimarySnapshot.RenditionReports[newURL]
	if !ok {
		return newURL
	}

	u, err := url.Parse(newURL)
	if err != nil {
		return newURL
	}
	q := u.Query()
	q.Set(blockMsnParam, strconv.FormatUint(report.LastMediaSequence, 10))
	if report.LastPartIndex != Unset {
		q.Set(blockPartParam, strconv.FormatInt(report.LastPartIndex, 10))
	}
	u.RawQuery = q.Encode()
	return u.String()
}
