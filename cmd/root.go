package cmd

import (
	"log"

	"github.com/metal-toolbox/nbsync/internal/model"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	envFile  string
	logLevel int
	debug    bool
	trace    bool
)

var rootCmd = &cobra.Command{
	Use:   model.AppName,
	Short: "Sync discovered network devices into NetBox",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		switch {
		case trace:
			logLevel = model.LogLevelTrace
		case debug:
			logLevel = model.LogLevelDebug
		default:
			logLevel = model.LogLevelInfo
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file (default is none, configuration is read from env variables)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load env variables from (default .env when present)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "", false, "Set logging to debug level")
	rootCmd.PersistentFlags().BoolVarP(&trace, "trace", "", false, "Set logging to trace level")
}
