package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	restapi "github.com/a13labs/hlstracker/cmd/hlstrackctl/rest"
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List every tracked media playlist",
	Run: func(cmd *cobra.Command, args []string) {
		body, err := restapi.Call(http.MethodGet, "/variants", nil)
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
		fmt.Println(string(body))
	},
}

var variantGetCmd = &cobra.Command{
	Use:   "get <variant-url>",
	Short: "Dump one variant's current snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body, err := restapi.Call(http.MethodGet, "/variants/"+url.QueryEscape(args[0]), nil)
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
		fmt.Println(string(body))
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh <variant-url>",
	Short: "Force a directive-eligible reload of one variant",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, err := restapi.Call(http.MethodPost, "/variants/"+url.QueryEscape(args[0])+"/refresh", nil)
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
	},
}

var excludeMs int64

var excludeCmd = &cobra.Command{
	Use:   "exclude <variant-url>",
	Short: "Exclude one variant for a duration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		endpoint := "/variants/" + url.QueryEscape(args[0]) + "/exclude?ms=" + strconv.FormatInt(excludeMs, 10)
		body, err := restapi.Call(http.MethodPost, endpoint, nil)
		if err != nil {
			cmd.PrintErrln(err)
			os.Exit(1)
		}
		fmt.Println(string(body))
	},
}

func init() {
	RootCmd.AddCommand(variantsCmd)
	variantsCmd.AddCommand(variantGetCmd)
	RootCmd.AddCommand(refreshCmd)
	excludeCmd.Flags().Int64Var(&excludeMs, "ms", 30_000, "Exclusion duration in milliseconds")
	RootCmd.AddCommand(excludeCmd)
}
