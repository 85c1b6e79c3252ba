package cmd

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	restapi "github.com/a13labs/hlstracker/cmd/hlstrackctl/rest"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the tracker's top-level state",
	Run: func(cmd *cobra.Command, args []string) {
		body, err := restapi.Call(http.MethodGet, "/status", nil)
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
		fmt.Println(string(body))
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}
