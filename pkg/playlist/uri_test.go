package playlist

import (
	"net/url"
	"testing"
)

func TestReloadURIPlainWhenNoDirectivesApply(t *testing.T) {
	snap := &Snapshot{ServerControl: ServerControl{SkipUntilUs: Unset}}
	got := ReloadURI("https://example.com/media.m3u8", snap, true)
	if got != "https://example.com/media.m3u8" {
		t.Fatalf("got %q, want plain url", got)
	}
}

func TestReloadURIPlainWhenDirectivesDisallowed(t *testing.T) {
	snap := &Snapshot{ServerControl: ServerControl{CanBlockReload: true}, MediaSequence: 5}
	got := ReloadURI("https://example.com/media.m3u8", snap, false)
	if got != "https://example.com/media.m3u8" {
		t.Fatalf("got %q, want plain url", got)
	}
}

func TestReloadURIBlockingIncludesMsn(t *testing.T) {
	snap := &Snapshot{
		MediaSequence:        100,
		PartTargetDurationUs: Unset,
		Segments:             make([]Segment, 4),
		ServerControl:        ServerControl{CanBlockReload: true, SkipUntilUs: Unset},
	}
	got := ReloadURI("https://example.com/media.m3u8", snap, true)
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("invalid url produced: %v", err)
	}
	if u.Query().Get("_HLS_msn") != "104" {
		t.Fatalf("_HLS_msn = %q, want 104", u.Query().Get("_HLS_msn"))
	}
	if u.Query().Has("_HLS_part") {
		t.Fatalf("did not expect _HLS_part when PartTargetDurationUs is unset")
	}
}

func TestReloadURIIgnoresTrailingPreloadPart(t *testing.T) {
	snap := &Snapshot{
		MediaSequence:        100,
		PartTargetDurationUs: 500_000,
		Segments:             make([]Segment, 2),
		TrailingParts: []Part{
			{DurationUs: 500_000, IsPreload: false},
			{DurationUs: 500_000, IsPreload: false},
			{DurationUs: 100_000, IsPreload: true},
		},
		ServerControl: ServerControl{CanBlockReload: true, SkipUntilUs: Unset},
	}
	got := ReloadURI("https://example.com/media.m3u8", snap, true)
	u, _ := url.Parse(got)
	if u.Query().Get("_HLS_part") != "2" {
		t.Fatalf("_HLS_part = %q, want 2 (preload part excluded)", u.Query().Get("_HLS_part"))
	}
}

func TestReloadURISkipDirective(t *testing.T) {
	snap := &Snapshot{ServerControl: ServerControl{SkipUntilUs: 0, CanSkipDateRanges: true}}
	got := ReloadURI("https://example.com/media.m3u8", snap, true)
	u, _ := url.Parse(got)
	if u.Query().Get("_HLS_skip") != "v2" {
		t.Fatalf("_HLS_skip = %q, want v2", u.Query().Get("_HLS_skip"))
	}
}

func TestReloadURISkipYesWithoutDateRanges(t *testing.T) {
	snap := &Snapshot{ServerControl: ServerControl{SkipUntilUs: 0, CanSkipDateRanges: false}}
	got := ReloadURI("https://example.com/media.m3u8", snap, true)
	u, _ := url.Parse(got)
	if u.Query().Get("_HLS_skip") != "YES" {
		t.Fatalf("_HLS_skip = %q, want YES", u.Query().Get("_HLS_skip"))
	}
}

func TestReloadURIIdempotent(t *testing.T) {
	snap := &Snapshot{
		MediaSequence:        10,
		PartTargetDurationUs: Unset,
		Segments:             make([]Segment, 2),
		ServerControl:        ServerControl{CanBlockReload: true, SkipUntilUs: Unset},
	}
	a := ReloadURI("https://example.com/media.m3u8", snap, true)
	b := ReloadURI("https://example.com/media.m3u8", snap, true)
	if a != b {
		t.Fatalf("ReloadURI not idempotent: %q != %q", a, b)
	}
}

func TestPrimaryChangeURIUsesRenditionReport(t *testing.T) {
	prev := &Snapshot{
		ServerControl: ServerControl{CanBlockReload: true},
		RenditionReports: map[string]RenditionReport{
			"https://example.com/b.m3u8": {LastMediaSequence: 42, LastPartIndex: 3},
		},
	}
	got := PrimaryChangeURI("https://example.com/b.m3u8", prev)
	u, _ := url.Parse(got)
	if u.Query().Get("_HLS_msn") != "42" || u.Query().Get("_HLS_part") != "3" {
		t.Fatalf("got %q, want msn=42 part=3", got)
	}
}

func TestPrimaryChangeURIPlainWithoutReport(t *testing.T) {
	prev := &Snapshot{ServerControl: ServerControl{CanBlockReload: true}}
	got := PrimaryChangeURI("https://example.com/b.m3u8", prev)
	if got != "https://example.com/b.m3u8" {
		t.Fatalf("got %q, want plain url", got)
	}
}
