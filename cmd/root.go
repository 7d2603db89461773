// Package cmd implements the newspipe command line.
package cmd

import (
	"fmt"
	"os"

	"newspipe/config"
	"newspipe/logging"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

var (
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:           "newspipe",
	Short:         "News ingestion pipeline",
	Long:          "newspipe fetches news articles, drops the ones it has already seen and stores the rest as raw JSON and partitioned Parquet.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "json or text (overrides LOG_FORMAT)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(runCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("newspipe %s (commit: %s)\n", version, commit)
	},
}

// loadConfig reads the configuration and sets up logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	level, format := cfg.LogLevel, cfg.LogFormat
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	if flagLogFormat != "" {
		format = flagLogFormat
	}
	logging.Init(level, format)
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logging.Log.WithError(err).Error("command_failed")
		os.Exit(1)
	}
}

func SetVersionInfo(v, c string) {
	version = v
	commit = c
}
