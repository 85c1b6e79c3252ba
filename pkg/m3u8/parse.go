// Package m3u8 turns HLS playlist bytes into the typed structures defined
// in pkg/playlist. It is a from-scratch line-oriented scanner: a single regex pulls
// attribute-list key/value pairs out of a tag's value, and the top-level
// scan loop dispatches on tag prefix.
package m3u8

import (
	"bufio"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/a13labs/hlstracker/pkg/playlist"
)

var attrListRe = regexp.MustCompile(`([-A-Z0-9]+)=("[^"\x0A\x0D]+"|[^",\s]+)`)

func parseAttributeList(value string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrListRe.FindAllStringSubmatch(value, -1) {
		attrs[m[1]] = strings.Trim(m[2], `"`)
	}
	return attrs
}

func startsWith(line, prefix string, out *string) bool {
	if !strings.HasPrefix(line, prefix) {
		return false
	}
	if out != nil {
		*out = line[len(prefix):]
	}
	return true
}

func resolveURL(base, ref string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// ParseMultivariant reads a multivariant (master) playlist and resolves
// every referenced URI against baseURL.
func ParseMultivariant(r io.Reader, baseURL string) (*playlist.Multivariant, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !s.Scan() {
		return nil, &MalformedManifestError{Reason: "empty playlist"}
	}
	if strings.TrimSpace(s.Text()) != "#EXTM3U" {
		return nil, &MalformedManifestError{Line: s.Text(), Reason: "missing #EXTM3U header"}
	}

	pl := &playlist.Multivariant{BaseURI: baseURL}
	seen := make(map[string]bool)

	var val string
	var pendingVariant *playlist.Variant

	addMediaURL := func(u string) {
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		pl.MediaPlaylistURLs = append(pl.MediaPlaylistURLs, u)
	}

	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		switch {
		case line == "":
			continue
		case startsWith(line, "#EXT-X-STREAM-INF:", &val):
			attrs := parseAttributeList(val)
			v := playlist.Variant{}
			if bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64); err == nil {
				v.Bandwidth = bw
			}
			v.Codecs = attrs["CODECS"]
			v.Resolution = attrs["RESOLUTION"]
			pendingVariant = &v
		case startsWith(line, "#EXT-X-MEDIA:", &val):
			attrs := parseAttributeList(val)
			if uri := attrs["URI"]; uri != "" {
				addMediaURL(resolveURL(baseURL, uri))
			}
		case strings.HasPrefix(line, "#"):
			// Unrecognized or irrelevant tag (EXT-X-VERSION, EXT-X-INDEPENDENT-SEGMENTS, ...).
			continue
		default:
			if pendingVariant != nil {
				pendingVariant.URL = resolveURL(baseURL, line)
				pl.Variants = append(pl.Variants, *pendingVariant)
				addMediaURL(pendingVariant.URL)
				pendingVariant = nil
			}
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if len(pl.Variants) == 0 {
		return nil, &MalformedManifestError{Reason: "no variants found"}
	}
	return pl, nil
}

// ParseMediaPlaylist reads a media playlist. previous is the last accepted
// snapshot for this URL, used to splice in segments skipped by an
// EXT-X-SKIP delta update; pass nil if there is none. url identifies the
// playlist being parsed, for error messages only.
func ParseMediaPlaylist(r io.Reader, url_ string, previous *playlist.Snapshot) (*playlist.Snapshot, error) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !s.Scan() {
		return nil, &MalformedManifestError{Reason: "empty playlist"}
	}
	if strings.TrimSpace(s.Text()) != "#EXTM3U" {
		return nil, &MalformedManifestError{Line: s.Text(), Reason: "missing #EXTM3U header"}
	}

	snap := &playlist.Snapshot{
		PartTargetDurationUs: playlist.Unset,
		ServerControl: playlist.ServerControl{
			SkipUntilUs:    playlist.Unset,
			HoldBackUs:     playlist.Unset,
			PartHoldBackUs: playlist.Unset,
		},
		RenditionReports: map[string]playlist.RenditionReport{},
	}

	var val string
	var pendingDuration float64
	var pendingProgramDateSeen bool
	var relDiscSeq int32
	var skippedSegments int

	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		switch {
		case line == "":
			continue
		case startsWith(line, "#EXT-X-MEDIA-SEQUENCE:", &val):
			if n, err := strconv.ParseUint(val, 10, 64); err == nil {
				snap.MediaSequence = n
			}
		case startsWith(line, "#EXT-X-DISCONTINUITY-SEQUENCE:", &val):
			if n, err := strconv.ParseInt(val, 10, 32); err == nil {
				snap.DiscontinuitySequence = int32(n)
				snap.HasDiscontinuitySequence = true
			}
		case startsWith(line, "#EXT-X-TARGETDURATION:", &val):
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				snap.TargetDurationUs = int64(n * 1_000_000)
			}
		case startsWith(line, "#EXT-X-PART-INF:", &val):
			attrs := parseAttributeList(val)
			if pt, err := strconv.ParseFloat(attrs["PART-TARGET"], 64); err == nil {
				snap.PartTargetDurationUs = int64(pt * 1_000_000)
			}
		case startsWith(line, "#EXT-X-PLAYLIST-TYPE:", &val):
			switch val {
			case "EVENT":
				snap.PlaylistType = playlist.TypeEvent
			case "VOD":
				snap.PlaylistType = playlist.TypeVOD
			default:
				snap.PlaylistType = playlist.TypeUnknown
			}
		case line == "#EXT-X-ENDLIST":
			snap.HasEndTag = true
		case line == "#EXT-X-DISCONTINUITY":
			relDiscSeq++
		case startsWith(line, "#EXT-X-PROGRAM-DATE-TIME:", &val):
			if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
				if !pendingProgramDateSeen {
					snap.StartTimeUs = t.UnixMicro()
					pendingProgramDateSeen = true
				}
				snap.HasProgramDateTime = true
			}
		case startsWith(line, "#EXT-X-SERVER-CONTROL:", &val):
			attrs := parseAttributeList(val)
			snap.ServerControl.CanBlockReload = attrs["CAN-BLOCK-RELOAD"] == "YES"
			skip := attrs["CAN-SKIP-UNTIL"]
			snap.ServerControl.CanSkipDateRanges = attrs["CAN-SKIP-DATERANGES"] == "YES"
			if skip != "" {
				if v, err := strconv.ParseFloat(skip, 64); err == nil {
					snap.ServerControl.SkipUntilUs = int64(v * 1_000_000)
				}
			}
			if hb, err := strconv.ParseFloat(attrs["HOLD-BACK"], 64); err == nil {
				snap.ServerControl.HoldBackUs = int64(hb * 1_000_000)
			}
			if phb, err := strconv.ParseFloat(attrs["PART-HOLD-BACK"], 64); err == nil {
				snap.ServerControl.PartHoldBackUs = int64(phb * 1_000_000)
			}
		case startsWith(line, "#EXT-X-RENDITION-REPORT:", &val):
			attrs := parseAttributeList(val)
			report := playlist.RenditionReport{LastPartIndex: playlist.Unset}
			if ms, err := strconv.ParseUint(attrs["LAST-MSN"], 10, 64); err == nil {
				report.LastMediaSequence = ms
			}
			if pi, err := strconv.ParseInt(attrs["LAST-PART"], 10, 64); err == nil {
				report.LastPartIndex = pi
			}
			if uri := attrs["URI"]; uri != "" {
				snap.RenditionReports[resolveURL(url_, uri)] = report
			}
		case startsWith(line, "#EXT-X-SKIP:", &val):
			attrs := parseAttributeList(val)
			if n, err := strconv.Atoi(attrs["SKIPPED-SEGMENTS"]); err == nil {
				skippedSegments = n
			}
		case startsWith(line, "#EXT-X-PART:", &val):
			attrs := parseAttributeList(val)
			part := playlist.Part{}
			if d, err := strconv.ParseFloat(attrs["DURATION"], 64); err == nil {
				part.DurationUs = int64(d * 1_000_000)
			}
			snap.TrailingParts = append(snap.TrailingParts, part)
		case startsWith(line, "#EXT-X-PRELOAD-HINT:", &val):
			snap.TrailingParts = append(snap.TrailingParts, playlist.Part{IsPreload: true})
		case startsWith(line, "#EXTINF:", &val):
			d, _, _ := strings.Cut(val, ",")
			if f, err := strconv.ParseFloat(d, 64); err == nil {
				pendingDuration = f
			}
		case strings.HasPrefix(line, "#"):
			continue
		default:
			// URI line: consumes the pending EXTINF duration and discontinuity count.
			seg := playlist.Segment{
				DurationUs:                    int64(pendingDuration * 1_000_000),
				RelativeDiscontinuitySequence: relDiscSeq,
			}
			if len(snap.Segments) > 0 {
				prev := snap.Segments[len(snap.Segments)-1]
				seg.RelativeStartTimeUs = prev.RelativeStartTimeUs + prev.DurationUs
			}
			snap.Segments = append(snap.Segments, seg)
			snap.DurationUs += seg.DurationUs
			pendingDuration = 0
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	if skippedSegments > 0 {
		spliced, err := applyDeltaUpdate(url_, previous, snap, skippedSegments)
		if err != nil {
			return nil, err
		}
		return spliced, nil
	}

	return snap, nil
}

// applyDeltaUpdate splices skippedSegments worth of segments from previous
// onto the front of loaded, per RFC 8216 §6.2.5.1's EXT-X-SKIP semantics.
func applyDeltaUpdate(url_ string, previous, loaded *playlist.Snapshot, skippedSegments int) (*playlist.Snapshot, error) {
	if previous == nil {
		return nil, &DeltaUpdateError{URL: url_, Err: errNoPreviousSnapshot}
	}
	// loaded.MediaSequence is the first skipped segment; the skipped segments
	// are previous's segments from that sequence number on, and loaded's
	// listed segments start at loaded.MediaSequence + skippedSegments.
	firstKeptIndex := int(loaded.MediaSequence) - int(previous.MediaSequence)
	if firstKeptIndex < 0 || firstKeptIndex+skippedSegments > len(previous.Segments) {
		return nil, &DeltaUpdateError{URL: url_, Err: errStaleBaseSnapshot}
	}
	prefix := previous.Segments[firstKeptIndex : firstKeptIndex+skippedSegments]

	merged := make([]playlist.Segment, 0, len(prefix)+len(loaded.Segments))
	merged = append(merged, prefix...)
	// Re-base the carried-over segments' relative start times to 0 and
	// append loaded's segments continuing from there.
	var offset int64
	if len(prefix) > 0 {
		offset = -prefix[0].RelativeStartTimeUs
	}
	for i := range merged {
		merged[i].RelativeStartTimeUs += offset
	}
	var tail int64
	if len(merged) > 0 {
		last := merged[len(merged)-1]
		tail = last.RelativeStartTimeUs + last.DurationUs
	}
	for _, seg := range loaded.Segments {
		seg.RelativeStartTimeUs += tail
		merged = append(merged, seg)
	}

	result := *loaded
	result.MediaSequence = previous.MediaSequence + uint64(firstKeptIndex)
	result.Segments = merged
	return &result, nil
}
