// Package hlsconfig holds the tunables that a running tracker daemon needs,
// bound to command-line flags the way the teacher project's cmd/server
// binds its own start flags.
package hlsconfig

import (
	"time"

	"github.com/spf13/pflag"
)

// Config is every knob a hlstrackerd process exposes.
type Config struct {
	// PlaylistURI is the multivariant (or bare media) playlist to track.
	PlaylistURI string
	// HTTPTimeout bounds each playlist fetch, including redirects.
	HTTPTimeout time.Duration
	// StuckCoefficient is the multiple of targetDuration after which an
	// unchanging live playlist is reported stuck.
	StuckCoefficient float64
	// SnapshotValidityFloorMs is the minimum age, in ms, below which a
	// non-VOD/EVENT snapshot is always considered valid regardless of its
	// own duration.
	SnapshotValidityFloorMs int64
	// ManifestMinRetryCount is the loader-internal retry floor for manifest
	// loads before the retry policy is even consulted for exclusion.
	ManifestMinRetryCount int
	// AuthSecret, when non-empty, is used both to sign the Authorization
	// header on outbound playlist fetches and to guard the introspection
	// HTTP surface. Empty means no signing and an unguarded surface.
	AuthSecret string
	// AuthTokenTTL is how long a minted playlist-fetch bearer token remains
	// valid.
	AuthTokenTTL time.Duration
	// IntrospectAddr is the listen address for the debug HTTP surface; empty
	// disables it.
	IntrospectAddr string
	// LogFile, when non-empty, redirects structured logging there instead of
	// stderr.
	LogFile string
	// LogLevel is one of logrus's level names (debug, info, warn, error).
	LogLevel string
}

// Default returns a Config carrying the tracker's stock tunables.
func Default() *Config {
	return &Config{
		HTTPTimeout:             10 * time.Second,
		StuckCoefficient:        3.5,
		SnapshotValidityFloorMs: 30_000,
		ManifestMinRetryCount:   1,
		AuthTokenTTL:            5 * time.Minute,
		IntrospectAddr:          ":8091",
		LogLevel:                "info",
	}
}

// BindFlags registers every field on fs, following the teacher's
// StringVarP/naming convention for its own start command.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&c.PlaylistURI, "playlist", "p", c.PlaylistURI, "Multivariant (or media) playlist URI to track")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", c.HTTPTimeout, "Per-request timeout for playlist fetches")
	fs.Float64Var(&c.StuckCoefficient, "stuck-coefficient", c.StuckCoefficient, "Target-duration multiple after which an unchanging live playlist is reported stuck")
	fs.Int64Var(&c.SnapshotValidityFloorMs, "snapshot-validity-floor-ms", c.SnapshotValidityFloorMs, "Minimum snapshot age floor, in milliseconds, for validity checks")
	fs.IntVar(&c.ManifestMinRetryCount, "manifest-min-retry-count", c.ManifestMinRetryCount, "Loader-internal retry floor for manifest loads")
	fs.StringVar(&c.AuthSecret, "auth-secret", c.AuthSecret, "Shared secret for signing outbound requests and guarding the introspection surface (empty disables both)")
	fs.DurationVar(&c.AuthTokenTTL, "auth-token-ttl", c.AuthTokenTTL, "Validity window for minted playlist-fetch bearer tokens")
	fs.StringVar(&c.IntrospectAddr, "introspect-addr", c.IntrospectAddr, "Listen address for the debug HTTP surface (empty disables it)")
	fs.StringVarP(&c.LogFile, "logfile", "l", c.LogFile, "Path to the log file (optional)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Minimum log level (debug, info, warn, error)")
}
