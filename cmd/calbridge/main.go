package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"calbridge/internal/config"
	appLog "calbridge/internal/log"
)

// version is stamped through -ldflags on release builds.
var version = "0.1.0-dev"

var flagConfigPath string

var rootCmd = &cobra.Command{
	Use:   "calbridge",
	Short: "One-way bridge from desktop calendar exports to Google Calendar",
	Long: `calbridge mirrors a desktop calendar into Google Calendar.

It reads .ics snapshot files from an outbox directory (refreshed by an
export command or remote subscriptions), expands recurrences inside the
configured window, and reconciles the result against the target calendar.
Only events created by the bridge are ever touched.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", config.DefaultPath(), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "calbridge: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flagConfigPath, err)
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	appLog.SetLevel(cfg.LogLevel)
}
