package playlist

// Reconcile is the stateless function described for the snapshot
// reconciler: given the previously accepted snapshot for a URL (nil if
// there was none), the just-loaded snapshot, and the tracker's current
// primary snapshot (nil if there is none yet), it returns the snapshot that
// should now be considered current for that URL.
//
// It is grounded on DefaultHlsPlaylistTracker's getLatestPlaylistSnapshot /
// getLoadedPlaylistStartTimeUs / getLoadedPlaylistDiscontinuitySequence /
// getFirstOldOverlappingSegment methods, collapsed into one pure function
// since this port has no cyclic tracker/bundle object graph to thread the
// same computation through.
func Reconcile(old, loaded, primary *Snapshot) *Snapshot {
	if !loaded.IsNewerThan(old) {
		if loaded.HasEndTag && old != nil && !old.HasEndTag {
			return old.CopyWithEndTag()
		}
		return old
	}

	startTimeUs := loadedStartTimeUs(old, loaded, primary)
	discontinuitySequence := loadedDiscontinuitySequence(old, loaded, primary)
	return loaded.CopyWith(startTimeUs, discontinuitySequence)
}

func loadedStartTimeUs(old, loaded, primary *Snapshot) int64 {
	if loaded.HasProgramDateTime {
		return loaded.StartTimeUs
	}
	if old == nil {
		return primaryStartTimeUs(primary)
	}
	if overlap, ok := firstOldOverlappingSegment(old, loaded); ok {
		return old.StartTimeUs + overlap.RelativeStartTimeUs
	}
	if len(old.Segments) == int(loaded.MediaSequence-old.MediaSequence) {
		// Exact abut: the loaded playlist starts exactly where old ended.
		return old.EndTimeUs()
	}
	return primaryStartTimeUs(primary)
}

func loadedDiscontinuitySequence(old, loaded, primary *Snapshot) int32 {
	if loaded.HasDiscontinuitySequence {
		return loaded.DiscontinuitySequence
	}
	if old == nil {
		return primaryDiscontinuitySequence(primary)
	}
	if overlap, ok := firstOldOverlappingSegment(old, loaded); ok {
		return old.DiscontinuitySequence + overlap.RelativeDiscontinuitySequence - loaded.Segments[0].RelativeDiscontinuitySequence
	}
	// No overlap and no explicit sequence: the source itself only has a
	// TODO here ("Improve cross-playlist discontinuity adjustment"). We
	// preserve that by inheriting from the primary snapshot rather than
	// guessing at a corrected value.
	return primaryDiscontinuitySequence(primary)
}

// firstOldOverlappingSegment returns the segment in old that corresponds to
// loaded's first media sequence number, if that index falls within old's
// window.
func firstOldOverlappingSegment(old, loaded *Snapshot) (Segment, bool) {
	if loaded.MediaSequence < old.MediaSequence {
		return Segment{}, false
	}
	index := int(loaded.MediaSequence - old.MediaSequence)
	if index < 0 || index >= len(old.Segments) {
		return Segment{}, false
	}
	return old.Segments[index], true
}

func primaryStartTimeUs(primary *Snapshot) int64 {
	if primary == nil {
		return 0
	}
	return primary.StartTimeUs
}

func primaryDiscontinuitySequence(primary *Snapshot) int32 {
	if primary == nil {
		return 0
	}
	return primary.DiscontinuitySequence
}
