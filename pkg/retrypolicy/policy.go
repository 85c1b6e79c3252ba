// Package retrypolicy implements component C3 of the tracker: a pure
// strategy that turns a load error into either a retry delay, a fatal
// failure, or a fallback (variant exclusion) decision. It never performs
// I/O and holds no reference to any live load.
package retrypolicy

import (
	"time"

	"github.com/a13labs/hlstracker/pkg/playlist"
)

// DataType classifies a loadable for retry-count and telemetry purposes.
// The tracker only ever loads manifests (multivariant or media playlists),
// but the type is kept distinct from other loadable kinds a consumer of
// this package might add (segments, keys, ...).
type DataType int

const (
	DataTypeManifest DataType = iota
)

// FallbackType is the kind of fallback a Policy can select.
type FallbackType int

const (
	// FallbackNone means no fallback should be attempted; the caller should
	// fall back to its own retry/fatal handling.
	FallbackNone FallbackType = iota
	// FallbackTrack excludes one track (media playlist variant) for a
	// duration, so playback can continue on the remaining variants.
	FallbackTrack
	// FallbackLocation excludes an entire alternate location (e.g. a CDN
	// mirror). The tracker never selects location fallback itself; it is
	// exposed so a Policy can express it, and a higher layer can consume it.
	FallbackLocation
)

// FallbackOptions describes the fallback candidates available at decision
// time, as counted by the caller (the tracker, for track fallback).
type FallbackOptions struct {
	TotalLocations    int
	ExcludedLocations int
	TotalTracks       int
	ExcludedTracks    int
}

// FallbackSelection is what a Policy returns when it decides a fallback
// should happen. A nil *FallbackSelection means no fallback.
type FallbackSelection struct {
	Type                FallbackType
	ExclusionDurationMs int64
}

// LoadErrorInfo carries everything a Policy needs to decide what to do
// about one load failure.
type LoadErrorInfo struct {
	URL        string
	Type       DataType
	Err        error
	ErrorCount int
}

// Policy is the pure strategy interface described in spec §4.3.
type Policy interface {
	// MinimumRetryCount returns how many loader-internal retries a fresh
	// load of the given type should be granted before onError is even
	// consulted for a give-up decision at the loader layer.
	MinimumRetryCount(dataType DataType) int
	// RetryDelayMs returns the delay before retrying, or playlist.Unset if
	// the error should be treated as fatal.
	RetryDelayMs(info LoadErrorInfo) int64
	// FallbackSelectionFor returns a fallback decision for the given error,
	// or nil if none applies.
	FallbackSelectionFor(options FallbackOptions, info LoadErrorInfo) *FallbackSelection
}

// Default is a small exponential-backoff policy in the spirit of the
// tracker's origin (ExoPlayer's DefaultLoadErrorHandlingPolicy): capped
// doubling delay, a bounded retry count before giving up fatally, and track
// exclusion whenever more than one non-excluded track remains (the error
// count is not consulted for fallback).
type Default struct {
	// BaseDelay is the delay used for the first retry; it doubles on each
	// subsequent attempt for the same load, up to MaxDelay.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// MaxErrorCount is the number of failed attempts (including the first)
	// after which RetryDelayMs reports fatal.
	MaxErrorCount int
	// MinRetryCountManifest is returned by MinimumRetryCount for manifests.
	MinRetryCountManifest int
	// ExclusionDurationMs is how long a track fallback excludes a variant.
	ExclusionDurationMs int64
}

// NewDefault returns a Default policy with the tracker's stock tunables.
func NewDefault() *Default {
	return &Default{
		BaseDelay:             1 * time.Second,
		MaxDelay:              30 * time.Second,
		MaxErrorCount:         4,
		MinRetryCountManifest: 1,
		ExclusionDurationMs:   30_000,
	}
}

func (d *Default) MinimumRetryCount(dataType DataType) int {
	switch dataType {
	case DataTypeManifest:
		return d.MinRetryCountManifest
	default:
		return d.MinRetryCountManifest
	}
}

func (d *Default) RetryDelayMs(info LoadErrorInfo) int64 {
	if info.ErrorCount >= d.MaxErrorCount {
		return playlist.Unset
	}
	delay := d.BaseDelay
	for i := 1; i < info.ErrorCount; i++ {
		delay *= 2
		if delay > d.MaxDelay {
			delay = d.MaxDelay
			break
		}
	}
	return delay.Milliseconds()
}

func (d *Default) FallbackSelectionFor(options FallbackOptions, info LoadErrorInfo) *FallbackSelection {
	if options.TotalTracks-options.ExcludedTracks <= 1 {
		// Excluding the last remaining track would leave nothing to play.
		return nil
	}
	return &FallbackSelection{
		Type:                FallbackTrack,
		ExclusionDurationMs: d.ExclusionDurationMs,
	}
}
