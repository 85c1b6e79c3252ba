package retrypolicy

import (
	"errors"
	"testing"

	"github.com/a13labs/hlstracker/pkg/playlist"
)

func TestDefaultRetryDelayGrowsThenGivesUp(t *testing.T) {
	p := NewDefault()
	errTest := errors.New("boom")

	prev := int64(-2)
	for i := 1; i < p.MaxErrorCount; i++ {
		delay := p.RetryDelayMs(LoadErrorInfo{Type: DataTypeManifest, Err: errTest, ErrorCount: i})
		if delay == playlist.Unset {
			t.Fatalf("errorCount %d: unexpectedly fatal", i)
		}
		if delay < prev {
			t.Fatalf("errorCount %d: delay %d should not shrink from %d", i, delay, prev)
		}
		prev = delay
	}

	fatal := p.RetryDelayMs(LoadErrorInfo{Type: DataTypeManifest, Err: errTest, ErrorCount: p.MaxErrorCount})
	if fatal != playlist.Unset {
		t.Fatalf("expected fatal at MaxErrorCount, got delay %d", fatal)
	}
}

func TestDefaultMinimumRetryCount(t *testing.T) {
	p := NewDefault()
	if got := p.MinimumRetryCount(DataTypeManifest); got != p.MinRetryCountManifest {
		t.Fatalf("got %d, want %d", got, p.MinRetryCountManifest)
	}
}

func TestDefaultFallbackSelectionNilWhenNoSpareTracks(t *testing.T) {
	p := NewDefault()
	got := p.FallbackSelectionFor(FallbackOptions{TotalTracks: 1, ExcludedTracks: 0}, LoadErrorInfo{})
	if got != nil {
		t.Fatalf("expected nil fallback with only one track, got %+v", got)
	}
}

func TestDefaultFallbackSelectionTrackWhenSpareExists(t *testing.T) {
	p := NewDefault()
	got := p.FallbackSelectionFor(FallbackOptions{TotalTracks: 2, ExcludedTracks: 0}, LoadErrorInfo{})
	if got == nil || got.Type != FallbackTrack {
		t.Fatalf("expected track fallback, got %+v", got)
	}
	if got.ExclusionDurationMs != p.ExclusionDurationMs {
		t.Fatalf("ExclusionDurationMs = %d, want %d", got.ExclusionDurationMs, p.ExclusionDurationMs)
	}
}
