package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"calbridge/internal/config"
	"calbridge/internal/export"
	"calbridge/internal/gcal"
	"calbridge/internal/ics"
	"calbridge/internal/lock"
	appLog "calbridge/internal/log"
	"calbridge/internal/model"
	"calbridge/internal/reconcile"
	"calbridge/internal/state"
)

var (
	flagSyncDryRun     bool
	flagSyncCreateOnly bool
)

func init() {
	syncCmd.Flags().BoolVar(&flagSyncDryRun, "dry-run", false, "print the plan without touching the target or the state store")
	syncCmd.Flags().BoolVar(&flagSyncCreateOnly, "create-only", false, "apply creates only; skip updates and deletes")
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one reconciliation pass",
	Args:  cobra.NoArgs,
	RunE:  runSyncCmd,
}

func runSyncCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Dry runs take the lock too: the snapshot refresh writes the outbox,
	// and racing it against a live pass would plan from half-written files.
	lk, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		return err
	}
	defer lk.Release()

	if flagSyncDryRun {
		return dryRunSync(ctx, cfg)
	}

	rep, err := runPipeline(ctx, cfg, pipelineOptions{createOnly: flagSyncCreateOnly})
	if rep.RunID != "" {
		// Reconciliation started; show partial counts even on failure.
		printReport(os.Stdout, rep)
	}
	return err
}

func dryRunSync(ctx context.Context, cfg *config.Config) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	winStart, winEnd := syncWindow(cfg, loc, time.Now())

	occs, err := loadOccurrences(ctx, cfg, loc, winStart, winEnd)
	if err != nil {
		return err
	}
	st, err := state.Open(cfg.StatePath)
	if err != nil {
		return err
	}

	rec := reconcile.New(st, nil, reconcile.Options{
		WindowStart: winStart,
		WindowEnd:   winEnd,
		CreateOnly:  flagSyncCreateOnly,
	})
	plan, err := rec.Plan(occs)
	if err != nil {
		return err
	}
	printPlan(os.Stdout, plan, loc)
	return nil
}

type pipelineOptions struct {
	createOnly bool
}

// runPipeline performs one full pass: refresh the outbox, load and expand
// the snapshot, then reconcile it against the target calendar. It is shared
// by the sync command and the daemon.
func runPipeline(ctx context.Context, cfg *config.Config, opts pipelineOptions) (model.Report, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return model.Report{}, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	winStart, winEnd := syncWindow(cfg, loc, time.Now())

	occs, err := loadOccurrences(ctx, cfg, loc, winStart, winEnd)
	if err != nil {
		return model.Report{}, err
	}

	st, err := state.Open(cfg.StatePath)
	if err != nil {
		return model.Report{}, err
	}

	adapter, err := newAdapter(ctx, cfg)
	if err != nil {
		return model.Report{}, err
	}

	rec := reconcile.New(st, adapter, reconcile.Options{
		WindowStart: winStart,
		WindowEnd:   winEnd,
		Retry:       retryPolicy(cfg),
		Workers:     cfg.BatchWorkers,
		CreateOnly:  opts.createOnly,
	})
	return rec.Run(ctx, occs)
}

// syncWindow computes the reconciliation window, aligned to local midnight
// so the bounds stay stable across passes within one day.
func syncWindow(cfg *config.Config, loc *time.Location, now time.Time) (time.Time, time.Time) {
	day := now.In(loc)
	base := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return base.AddDate(0, 0, -cfg.SyncDaysPast), base.AddDate(0, 0, cfg.SyncDaysFuture)
}

// loadOccurrences refreshes the outbox (export command first, then remote
// subscriptions) and produces the expanded occurrence list for the window.
func loadOccurrences(ctx context.Context, cfg *config.Config, loc *time.Location, winStart, winEnd time.Time) ([]model.Occurrence, error) {
	if cfg.ExportCommand != "" {
		runner := &export.Runner{
			Command:  cfg.ExportCommand,
			Calendar: cfg.SourceCalendar,
			Outbox:   cfg.OutboxDir,
			Timeout:  export.DefaultTimeout,
		}
		if err := runner.Refresh(ctx, winStart, winEnd); err != nil {
			return nil, fmt.Errorf("refresh outbox: %w", err)
		}
	}

	if len(cfg.Subscriptions) > 0 {
		feeds := make([]export.Feed, 0, len(cfg.Subscriptions))
		for _, sub := range cfg.Subscriptions {
			feeds = append(feeds, export.Feed{Name: sub.Name, URL: sub.URL})
		}
		if err := export.NewFetcher(cfg.ICSCacheDir, cfg.OutboxDir).FetchAll(ctx, feeds); err != nil {
			return nil, fmt.Errorf("refresh subscriptions: %w", err)
		}
	}

	sanitize := cfg.Sanitize == nil || *cfg.Sanitize
	snap, err := ics.NewLoader(cfg.OutboxDir, sanitize, loc).Load()
	if err != nil {
		return nil, err
	}

	res, err := ics.Expand(snap.Events, ics.ExpandConfig{
		Location:   loc,
		RangeStart: winStart,
		RangeEnd:   winEnd,
	})
	if err != nil {
		return nil, err
	}
	if len(res.TruncatedUIDs) > 0 {
		appLog.Warn("recurrence expansion hit the per-event cap", "uids", res.TruncatedUIDs)
	}
	return res.Occurrences, nil
}

func newAdapter(ctx context.Context, cfg *config.Config) (*gcal.Client, error) {
	httpClient, err := gcal.NewHTTPClient(ctx, cfg.CredentialsPath, cfg.TokenPath)
	if err != nil {
		return nil, err
	}
	return gcal.NewClient(ctx, httpClient, gcal.Options{
		CalendarID:    cfg.GoogleCalendarID,
		RatePerSecond: cfg.APIRatePerSecond,
	})
}

func retryPolicy(cfg *config.Config) reconcile.RetryPolicy {
	return reconcile.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		InitialDelay: time.Duration(cfg.RetryBaseDelaySeconds * float64(time.Second)),
		Multiplier:   2.0,
		MaxDelay:     time.Duration(cfg.RetryMaxDelaySeconds * float64(time.Second)),
	}
}

func printPlan(w io.Writer, p reconcile.Plan, loc *time.Location) {
	fmt.Fprintf(w, "plan: %d create, %d update, %d delete, %d unchanged\n",
		len(p.Creates), len(p.Updates), len(p.Deletes), len(p.Unchanged))
	for _, it := range p.Creates {
		fmt.Fprintf(w, "  create  %s  %s\n", it.Occurrence.Start.In(loc).Format("2006-01-02 15:04"), it.Occurrence.Summary)
	}
	for _, up := range p.Updates {
		fmt.Fprintf(w, "  update  %s  %s\n", up.Occurrence.Start.In(loc).Format("2006-01-02 15:04"), up.Occurrence.Summary)
	}
	for _, d := range p.Deletes {
		fmt.Fprintf(w, "  delete  event %s\n", d.EventID)
	}
	if p.Duplicates > 0 {
		fmt.Fprintf(w, "  (%d duplicate occurrences collapsed)\n", p.Duplicates)
	}
}

func printReport(w io.Writer, rep model.Report) {
	fmt.Fprintf(w, "created %d, updated %d, deleted %d, unchanged %d, skipped %d (%s)\n",
		rep.Created, rep.Updated, rep.Deleted, rep.Unchanged, rep.Skipped,
		rep.Duration.Round(time.Millisecond))
	for _, msg := range rep.Errors {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}
