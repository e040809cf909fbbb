package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"calbridge/internal/gcal"
)

func init() {
	rootCmd.AddCommand(authCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Run the OAuth flow and cache the token",
	Long: `auth walks through the Google OAuth consent flow in a browser and
caches the resulting token next to the config. Service-account credentials
need no flow; for those the command just verifies the credentials file.`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

func runAuth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gcal.Authorize(ctx, cfg.CredentialsPath, cfg.TokenPath); err != nil {
		return err
	}
	fmt.Println("authorization complete")
	return nil
}
