package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"calbridge/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(flagConfigPath); err == nil {
		return fmt.Errorf("config already exists at %s", flagConfigPath)
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(flagConfigPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("wrote %s\n", flagConfigPath)
	fmt.Println("next steps:")
	fmt.Println("  1. set outbox_dir, export_command or subscriptions, and google_calendar_id")
	fmt.Println("  2. place Google credentials at the configured credentials_path")
	fmt.Println("  3. run `calbridge auth`, then `calbridge sync --dry-run`")
	return nil
}
