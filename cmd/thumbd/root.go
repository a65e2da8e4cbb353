package main

import "github.com/spf13/cobra"

// set with -ldflags "-X main.version=... -X main.commit=..."
var (
	version = "dev"
	commit  = "none"
)

var (
	configFile string
	devMode    bool
)

var rootCmd = &cobra.Command{
	Use:          "thumbd",
	Short:        "Asynchronous thumbnail job orchestrator",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(watchCmd)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Enable developer mode (console logs, dev secrets)")
}
