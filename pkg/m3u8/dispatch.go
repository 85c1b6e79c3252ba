package m3u8

import (
	"bytes"
	"io"

	"github.com/a13labs/hlstracker/pkg/playlist"
)

// Result is the outcome of Parse: exactly one of Multivariant or Media is
// set, mirroring the bootstrap fetch's two possible resource types.
type Result struct {
	Multivariant *playlist.Multivariant
	Media        *playlist.Snapshot
}

// Parse reads an HLS playlist of unknown kind and dispatches to
// ParseMultivariant or ParseMediaPlaylist based on its content. previous is
// forwarded to ParseMediaPlaylist for delta-update resolution; it is
// ignored for multivariant playlists.
func Parse(r io.Reader, sourceURL string, previous *playlist.Snapshot) (*Result, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if bytes.Contains(body, []byte("#EXT-X-STREAM-INF:")) {
		mv, err := ParseMultivariant(bytes.NewReader(body), sourceURL)
		if err != nil {
			return nil, err
		}
		return &Result{Multivariant: mv}, nil
	}
	snap, err := ParseMediaPlaylist(bytes.NewReader(body), sourceURL, previous)
	if err != nil {
		return nil, err
	}
	return &Result{Media: snap}, nil
}
