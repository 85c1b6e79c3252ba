package playlist

import "testing"

func seg(startUs, durUs int64, disc int32) Segment {
	return Segment{RelativeStartTimeUs: startUs, DurationUs: durUs, RelativeDiscontinuitySequence: disc}
}

func TestReconcileFirstLoadUsesPrimaryStartTime(t *testing.T) {
	primary := &Snapshot{StartTimeUs: 5_000_000, DiscontinuitySequence: 2}
	loaded := &Snapshot{
		MediaSequence: 0,
		Segments:      []Segment{seg(0, 10_000_000, 0)},
	}

	got := Reconcile(nil, loaded, primary)

	if got.StartTimeUs != 5_000_000 {
		t.Fatalf("StartTimeUs = %d, want 5_000_000", got.StartTimeUs)
	}
	if got.DiscontinuitySequence != 2 {
		t.Fatalf("DiscontinuitySequence = %d, want 2", got.DiscontinuitySequence)
	}
}

func TestReconcileProgramDateTimeWins(t *testing.T) {
	old := &Snapshot{MediaSequence: 0, Segments: []Segment{seg(0, 1_000_000, 0)}, StartTimeUs: 1000}
	loaded := &Snapshot{
		MediaSequence:      1,
		HasProgramDateTime: true,
		StartTimeUs:        99_000_000,
		Segments:           []Segment{seg(0, 1_000_000, 0)},
	}

	got := Reconcile(old, loaded, nil)

	if got.StartTimeUs != 99_000_000 {
		t.Fatalf("StartTimeUs = %d, want program-date-time value", got.StartTimeUs)
	}
}

func TestReconcileOverlapCarriesStartTimeForward(t *testing.T) {
	old := &Snapshot{
		MediaSequence: 10,
		StartTimeUs:   0,
		Segments: []Segment{
			seg(0, 4_000_000, 0),
			seg(4_000_000, 4_000_000, 0),
			seg(8_000_000, 4_000_000, 0),
		},
	}
	// loaded drops segment 10, keeps 11 and 12, adds a new one at 13.
	loaded := &Snapshot{
		MediaSequence: 11,
		Segments: []Segment{
			seg(0, 4_000_000, 0),
			seg(4_000_000, 4_000_000, 0),
			seg(8_000_000, 4_000_000, 0),
		},
	}

	got := Reconcile(old, loaded, nil)

	if got.StartTimeUs != 4_000_000 {
		t.Fatalf("StartTimeUs = %d, want 4_000_000 (old segment 1's relative start)", got.StartTimeUs)
	}
}

func TestReconcileExactAbutUsesEndTime(t *testing.T) {
	old := &Snapshot{
		MediaSequence: 0,
		StartTimeUs:   0,
		Segments: []Segment{
			seg(0, 5_000_000, 0),
			seg(5_000_000, 5_000_000, 0),
		},
	}
	// loaded's mediaSequence - old.mediaSequence == len(old.Segments): no overlap.
	loaded := &Snapshot{
		MediaSequence: 2,
		Segments:      []Segment{seg(0, 5_000_000, 0)},
	}

	got := Reconcile(old, loaded, nil)

	if got.StartTimeUs != old.EndTimeUs() {
		t.Fatalf("StartTimeUs = %d, want old.EndTimeUs() = %d", got.StartTimeUs, old.EndTimeUs())
	}
}

func TestReconcileNotNewerReturnsOldUnchanged(t *testing.T) {
	old := &Snapshot{MediaSequence: 5, Segments: []Segment{seg(0, 1, 0)}}
	loaded := &Snapshot{MediaSequence: 5, Segments: []Segment{seg(0, 1, 0)}}

	got := Reconcile(old, loaded, nil)

	if got != old {
		t.Fatalf("expected reference equality with old when loaded is not newer")
	}
}

func TestReconcileStaleWithEndTagAdoptsEndTag(t *testing.T) {
	old := &Snapshot{MediaSequence: 5, Segments: []Segment{seg(0, 1, 0)}, HasEndTag: false}
	loaded := &Snapshot{MediaSequence: 5, Segments: []Segment{seg(0, 1, 0)}, HasEndTag: true}

	got := Reconcile(old, loaded, nil)

	if got == old {
		t.Fatalf("expected a new snapshot carrying the end tag, not the same reference")
	}
	if !got.HasEndTag {
		t.Fatalf("expected HasEndTag=true")
	}
	if got.MediaSequence != old.MediaSequence {
		t.Fatalf("expected mediaSequence preserved from old")
	}
}

func TestReconcilePurity(t *testing.T) {
	old := &Snapshot{MediaSequence: 3, StartTimeUs: 10, Segments: []Segment{seg(0, 2_000_000, 0)}}
	loaded := &Snapshot{MediaSequence: 4, Segments: []Segment{seg(0, 2_000_000, 0)}}
	primary := &Snapshot{StartTimeUs: 999}

	a := Reconcile(old, loaded, primary)
	b := Reconcile(old, loaded, primary)

	if a.StartTimeUs != b.StartTimeUs || a.DiscontinuitySequence != b.DiscontinuitySequence {
		t.Fatalf("Reconcile is not pure: got %+v and %+v", a, b)
	}
	if old.StartTimeUs != 10 {
		t.Fatalf("Reconcile mutated old snapshot")
	}
}
