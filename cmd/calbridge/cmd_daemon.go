package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"calbridge/internal/config"
	"calbridge/internal/health"
	"calbridge/internal/lock"
	appLog "calbridge/internal/log"
)

func init() {
	rootCmd.AddCommand(daemonCmd)
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run sync passes on the configured schedule until stopped",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := cronLogger{}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))
	if _, err := c.AddFunc(cfg.DaemonSchedule, func() { daemonPass(ctx, cfg) }); err != nil {
		return fmt.Errorf("parse daemon_schedule %q: %w", cfg.DaemonSchedule, err)
	}

	appLog.Info("daemon starting", "version", version, "schedule", cfg.DaemonSchedule)

	// First pass immediately so a fresh start converges without waiting
	// for the schedule to fire.
	daemonPass(ctx, cfg)

	c.Start()
	<-ctx.Done()

	appLog.Info("daemon stopping")
	<-c.Stop().Done()
	return nil
}

// daemonPass runs one scheduled reconciliation and records the outcome in
// the health file. Failures are logged but never stop the daemon; a broken
// credential or unreachable target shows up as a growing failure streak.
func daemonPass(ctx context.Context, cfg *config.Config) {
	if ctx.Err() != nil {
		return
	}

	lk, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			appLog.Warn("pass skipped, lock held elsewhere", "path", cfg.LockPath)
			return
		}
		appLog.Error("lock acquisition failed", err, "path", cfg.LockPath)
		recordHealth(cfg, err)
		return
	}
	defer lk.Release()

	rep, err := runPipeline(ctx, cfg, pipelineOptions{})
	if err != nil {
		if ctx.Err() != nil {
			appLog.Warn("sync pass aborted by shutdown", "run_id", rep.RunID)
			return
		}
		appLog.Error("sync pass failed", err, "run_id", rep.RunID)
		recordHealth(cfg, err)
		return
	}

	appLog.Info("sync pass finished",
		"run_id", rep.RunID,
		"created", rep.Created,
		"updated", rep.Updated,
		"deleted", rep.Deleted,
		"unchanged", rep.Unchanged,
		"skipped", rep.Skipped,
		"duration", rep.Duration.Round(time.Millisecond).String(),
	)
	recordHealth(cfg, nil)
}

func recordHealth(cfg *config.Config, runErr error) {
	var err error
	if runErr == nil {
		err = health.RecordSuccess(cfg.HealthPath, version, time.Now())
	} else {
		err = health.RecordFailure(cfg.HealthPath, version, runErr)
	}
	if err != nil {
		appLog.Error("health file update failed", err, "path", cfg.HealthPath)
	}
}

// cronLogger adapts the application logger to the cron.Logger interface.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	appLog.Error("cron: "+msg, err, kv...)
}
