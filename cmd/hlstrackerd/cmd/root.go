// Package cmd implements the hlstrackerd command line, following the
// teacher's own cmd/RootCmd split.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// RootCmd is the base command when hlstrackerd is invoked without arguments.
var RootCmd = &cobra.Command{
	Use:   "hlstrackerd",
	Short: "Track an HLS multivariant playlist and its media playlists",
	Long:  `hlstrackerd runs a single tracker session against a multivariant (or bare media) playlist and serves a debug HTTP surface over its state.`,
}

// Execute runs the command tree, exiting with status 1 on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
