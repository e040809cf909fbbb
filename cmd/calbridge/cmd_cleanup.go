package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"calbridge/internal/lock"
	appLog "calbridge/internal/log"
	"calbridge/internal/state"
	"calbridge/internal/target"
)

var (
	flagCleanupForce  bool
	flagCleanupDryRun bool
)

func init() {
	cleanupCmd.Flags().BoolVar(&flagCleanupForce, "force", false, "actually delete; without it the command only lists matches")
	cleanupCmd.Flags().BoolVar(&flagCleanupDryRun, "dry-run", false, "list matches only, even with --force")
	rootCmd.AddCommand(cleanupCmd)
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove every bridge-owned event in the window from the target",
	Long: `cleanup lists the events in the sync window that carry the bridge's
ownership marker and, with --force, deletes them from the target calendar
and drops their state entries. Events created by hand or by other tools
are never touched.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	winStart, winEnd := syncWindow(cfg, loc, time.Now())

	lk, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		return err
	}
	defer lk.Release()

	adapter, err := newAdapter(ctx, cfg)
	if err != nil {
		return err
	}

	remotes, err := adapter.List(ctx, target.Range{Start: winStart, End: winEnd})
	if err != nil {
		return fmt.Errorf("list bridge-owned events: %w", err)
	}
	if len(remotes) == 0 {
		fmt.Println("no bridge-owned events on the target in the sync window")
		return nil
	}

	for _, r := range remotes {
		fmt.Printf("  %s  %s  (event %s)\n", r.Start.In(loc).Format("2006-01-02 15:04"), r.Summary, r.EventID)
	}
	if flagCleanupDryRun || !flagCleanupForce {
		fmt.Printf("%d events match; rerun with --force to delete them\n", len(remotes))
		return nil
	}

	st, err := state.Open(cfg.StatePath)
	if err != nil {
		return err
	}

	pol := retryPolicy(cfg)
	deleted := 0
	for _, r := range remotes {
		err := pol.Execute(ctx, func() error { return adapter.Delete(ctx, r.EventID) })
		if err != nil && !target.IsNotFound(err) {
			return fmt.Errorf("delete event %s: %w", r.EventID, err)
		}
		if r.CompositeID != "" {
			if err := st.Remove(r.CompositeID); err != nil {
				return fmt.Errorf("drop state entry for %s: %w", r.EventID, err)
			}
		}
		deleted++
	}

	fmt.Printf("deleted %d events\n", deleted)
	appLog.Info("cleanup finished", "deleted", deleted)
	return nil
}
