// Package playlist holds the immutable data model shared by every other
// tracker package: multivariant playlists, media playlist snapshots, and
// the pure reconciliation and reload-URI logic that operate on them. Nothing
// in this package performs I/O or holds mutable session state.
package playlist

// Unset is the sentinel for "no value" on int64 time/index fields, mirroring
// the convention used throughout the tracker for optional microsecond and
// millisecond quantities.
const Unset int64 = -1

// Type is the EXT-X-PLAYLIST-TYPE value of a media playlist.
type Type int

const (
	TypeUnknown Type = iota
	TypeEvent
	TypeVOD
	TypeLive
)

// Variant is one entry of a multivariant playlist.
type Variant struct {
	URL        string
	Bandwidth  int64
	Codecs     string
	Resolution string
}

// Multivariant is the top-level manifest enumerating variant streams. It is
// immutable once parsed; the tracker never mutates it in place.
type Multivariant struct {
	BaseURI string
	// Variants defines fallback priority: index 0 is the first-choice
	// primary.
	Variants []Variant
	// MediaPlaylistURLs is the set of every playlist URL referenced by the
	// multivariant playlist (variants and alternate renditions), in
	// first-seen order.
	MediaPlaylistURLs []string
}

// SingleVariant wraps a bare media playlist URL as a one-variant
// multivariant, for the case where the bootstrap fetch is itself a media
// playlist rather than a multivariant playlist.
func SingleVariant(url string) *Multivariant {
	return &Multivariant{
		BaseURI:           url,
		Variants:          []Variant{{URL: url}},
		MediaPlaylistURLs: []string{url},
	}
}

// Segment is one media segment within a snapshot's sliding window.
type Segment struct {
	RelativeStartTimeUs           int64
	DurationUs                    int64
	RelativeDiscontinuitySequence int32
}

// Part is a low-latency partial segment (EXT-X-PART / EXT-X-PRELOAD-HINT).
type Part struct {
	DurationUs int64
	IsPreload  bool
}

// ServerControl mirrors EXT-X-SERVER-CONTROL. Time fields default to Unset.
type ServerControl struct {
	CanBlockReload    bool
	CanSkipDateRanges bool
	SkipUntilUs       int64
	HoldBackUs        int64
	PartHoldBackUs    int64
}

// RenditionReport is one EXT-X-RENDITION-REPORT entry: a hint about the
// current tip of a sibling playlist.
type RenditionReport struct {
	LastMediaSequence uint64
	// LastPartIndex is Unset (as an int64) when the report carries no part.
	LastPartIndex int64
}

// Snapshot is an immutable parsed media playlist plus its derived
// startTimeUs and discontinuitySequence. Successive snapshots for the same
// URL replace one another by reference; none is ever mutated in place.
type Snapshot struct {
	MediaSequence            uint64
	DiscontinuitySequence    int32
	TargetDurationUs         int64
	PartTargetDurationUs     int64 // Unset if absent
	StartTimeUs              int64
	DurationUs               int64
	HasEndTag                bool
	HasProgramDateTime       bool
	HasDiscontinuitySequence bool
	PlaylistType             Type

	Segments      []Segment
	TrailingParts []Part
	ServerControl ServerControl
	// RenditionReports maps a peer playlist URL to the tip hint it carries.
	RenditionReports map[string]RenditionReport
}

// EndTimeUs is the timestamp immediately after the final segment.
func (s *Snapshot) EndTimeUs() int64 {
	if len(s.Segments) == 0 {
		return s.StartTimeUs
	}
	last := s.Segments[len(s.Segments)-1]
	return s.StartTimeUs + last.RelativeStartTimeUs + last.DurationUs
}

// DurationMs is DurationUs expressed in milliseconds, rounding down.
func (s *Snapshot) DurationMs() int64 {
	return s.DurationUs / 1000
}

// TargetDurationMs is TargetDurationUs expressed in milliseconds.
func (s *Snapshot) TargetDurationMs() int64 {
	return s.TargetDurationUs / 1000
}

// CopyWith returns a new snapshot with startTimeUs and discontinuitySequence
// overridden; every other field is shared with the receiver (snapshots and
// their slices are treated as immutable once built, so sharing is safe).
func (s *Snapshot) CopyWith(startTimeUs int64, discontinuitySequence int32) *Snapshot {
	cp := *s
	cp.StartTimeUs = startTimeUs
	cp.DiscontinuitySequence = discontinuitySequence
	return &cp
}

// CopyWithEndTag returns a snapshot identical to the receiver except
// HasEndTag is true. Used for the "server appended an end tag without
// advancing mediaSequence" compensation.
func (s *Snapshot) CopyWithEndTag() *Snapshot {
	cp := *s
	cp.HasEndTag = true
	return &cp
}

// IsNewerThan reports whether s should replace old: compared first by
// mediaSequence, then by segment count, then by trailing-part count. A nil
// old is always older.
func (s *Snapshot) IsNewerThan(old *Snapshot) bool {
	if old == nil {
		return true
	}
	if s.MediaSequence != old.MediaSequence {
		return s.MediaSequence > old.MediaSequence
	}
	if len(s.Segments) != len(old.Segments) {
		return len(s.Segments) > len(old.Segments)
	}
	return len(s.TrailingParts) > len(old.TrailingParts)
}
