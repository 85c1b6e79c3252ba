package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/a13labs/hlstracker/pkg/auth"
	"github.com/a13labs/hlstracker/pkg/clock"
	"github.com/a13labs/hlstracker/pkg/hlsconfig"
	"github.com/a13labs/hlstracker/pkg/introspect"
	"github.com/a13labs/hlstracker/pkg/loader"
	"github.com/a13labs/hlstracker/pkg/logger"
	"github.com/a13labs/hlstracker/pkg/playlist"
	"github.com/a13labs/hlstracker/pkg/retrypolicy"
	"github.com/a13labs/hlstracker/pkg/tracker"
)

var log = logger.Component("hlstrackerd")

var config = hlsconfig.Default()

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start tracking a playlist",
	Long:  `Start a tracker session against the configured playlist URI and serve its debug HTTP surface.`,
	Run: func(cmd *cobra.Command, args []string) {
		if config.PlaylistURI == "" {
			cmd.PrintErrln("--playlist is required")
			os.Exit(1)
		}
		if config.LogFile != "" {
			logger.Init(config.LogFile)
		}
		if level, err := logrus.ParseLevel(config.LogLevel); err == nil {
			logger.SetLevel(level)
		}

		log.Infof("starting hlstrackerd for %s", config.PlaylistURI)
		log.Infof("stuck coefficient=%.1f snapshot floor=%dms manifest min retries=%d", config.StuckCoefficient, config.SnapshotValidityFloorMs, config.ManifestMinRetryCount)

		var signer loader.TokenSigner
		if config.AuthSecret != "" {
			signer = auth.NewSigner(config.AuthSecret, "hlstrackerd", config.AuthTokenTTL)
		}
		ds := loader.NewHTTPDataSource(config.HTTPTimeout, signer)

		policy := retrypolicy.NewDefault()
		policy.MinRetryCountManifest = config.ManifestMinRetryCount

		clk := clock.NewSystem()
		drv := tracker.NewDriver(clk)
		go drv.Run()

		tr := tracker.New(drv, ds, policy, config.StuckCoefficient, config.SnapshotValidityFloorMs)
		listener := &logPrimaryListener{}
		drv.Post(func() { tr.Start(config.PlaylistURI, listener) })

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

		var httpServer *http.Server
		if config.IntrospectAddr != "" {
			var guard *auth.Guard
			if config.AuthSecret != "" {
				guard = auth.NewGuard(config.AuthSecret)
			}
			introspectServer := introspect.New(drv, tr, guard)
			httpServer = &http.Server{Addr: config.IntrospectAddr, Handler: introspectServer.Router()}
			go func() {
				log.Infof("introspection surface listening on %s", config.IntrospectAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorf("introspection server failed: %v", err)
				}
			}()
		}

		<-quit
		log.Info("shutting down")

		if httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				log.Warnf("introspection server forced shutdown: %v", err)
			}
		}

		drv.Post(tr.Stop)
		drv.Stop()
	},
}

// logPrimaryListener logs every primary snapshot refresh at Info, matching
// the ambient logging level the daemon otherwise uses for operator-visible
// state transitions.
type logPrimaryListener struct{}

func (l *logPrimaryListener) OnPrimaryPlaylistRefreshed(snap *playlist.Snapshot) {
	log.Infof("primary playlist refreshed: mediaSequence=%d segments=%d hasEndTag=%v", snap.MediaSequence, len(snap.Segments), snap.HasEndTag)
}

func init() {
	RootCmd.AddCommand(startCmd)
	config.BindFlags(startCmd.Flags())
}
