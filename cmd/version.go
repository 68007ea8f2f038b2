package cmd

import (
	"fmt"

	"github.com/metal-toolbox/nbsync/internal/version"
	"github.com/spf13/cobra"
)

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print nbsync version along with dependency information.",
	Run: func(_ *cobra.Command, args []string) {
		fmt.Printf(
			"commit: %s\nbranch: %s\ngit summary: %s\nbuildDate: %s\nversion: %s\nGo version: %s\nretryablehttp version: %s\nnats.go version: %s\n",
			version.GitCommit, version.GitBranch, version.GitSummary, version.BuildDate, version.AppVersion, version.GoVersion, version.RetryableHTTPVersion, version.NatsVersion)
	},
}

func init() {
	rootCmd.AddCommand(cmdVersion)
}
