// Package cmd implements the hlstrackctl command line, following the
// teacher's own cli/cmd/root.go split.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	restapi "github.com/a13labs/hlstracker/cmd/hlstrackctl/rest"
)

// RootCmd is the base command when hlstrackctl is invoked without arguments.
var RootCmd = &cobra.Command{
	Use:   "hlstrackctl",
	Short: "Query and control a running hlstrackerd",
	Long:  `hlstrackctl talks to a running hlstrackerd's introspection HTTP surface.`,
}

// Execute runs the command tree, exiting with status 1 on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&restapi.Config.Host, "api-host", "http://localhost:8091", "hlstrackerd introspection host")
	RootCmd.PersistentFlags().StringVar(&restapi.Config.AuthSecret, "auth-secret", "", "Shared secret for signing requests (must match hlstrackerd's --auth-secret)")
}
