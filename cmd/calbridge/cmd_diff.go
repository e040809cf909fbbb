package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"calbridge/internal/identity"
	"calbridge/internal/lock"
	"calbridge/internal/model"
	"calbridge/internal/target"
)

func init() {
	rootCmd.AddCommand(diffCmd)
}

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Compare the source snapshot against the bridge-owned target events",
	Long: `diff expands the current snapshot and fetches the bridge-owned events
from the target, then reports occurrences missing on the target, orphaned
target events with no source occurrence, and instances whose summary or
start drifted. It changes nothing on either side.`,
	Args: cobra.NoArgs,
	RunE: runDiff,
}

func runDiff(cmd *cobra.Command, args []string) error {
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

	// The snapshot refresh writes the outbox, so hold the lock even though
	// nothing on the target is modified.
	lk, err := lock.Acquire(cfg.LockPath)
	if err != nil {
		return err
	}
	defer lk.Release()

	occs, err := loadOccurrences(ctx, cfg, loc, winStart, winEnd)
	if err != nil {
		return err
	}

	adapter, err := newAdapter(ctx, cfg)
	if err != nil {
		return err
	}
	remotes, err := adapter.List(ctx, target.Range{Start: winStart, End: winEnd})
	if err != nil {
		return fmt.Errorf("list bridge-owned events: %w", err)
	}

	source := make(map[string]model.Occurrence, len(occs))
	for _, occ := range occs {
		source[identity.Composite(occ)] = occ
	}
	remote := make(map[string]target.Remote, len(remotes))
	for _, r := range remotes {
		remote[r.CompositeID] = r
	}

	type row struct {
		at     time.Time
		kind   string
		detail string
	}
	var rows []row

	for id, occ := range source {
		r, ok := remote[id]
		if !ok {
			rows = append(rows, row{occ.Start, "missing on target", occ.Summary})
			continue
		}
		if drift := describeDrift(occ, r); drift != "" {
			rows = append(rows, row{occ.Start, "drift", fmt.Sprintf("%s: %s", occ.Summary, drift)})
		}
	}
	for id, r := range remote {
		if _, ok := source[id]; !ok {
			rows = append(rows, row{r.Start, "orphan on target", r.Summary})
		}
	}

	if len(rows) == 0 {
		fmt.Printf("source and target agree (%d occurrences)\n", len(occs))
		return nil
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].at.Equal(rows[j].at) {
			return rows[i].at.Before(rows[j].at)
		}
		return rows[i].kind < rows[j].kind
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.at.In(loc).Format("2006-01-02 15:04"), r.kind, r.detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("%d differences; run `calbridge sync` to converge\n", len(rows))
	return nil
}

// describeDrift reports how a tracked occurrence differs from its target
// counterpart, or "" when they agree. Start comparison tolerates a minute
// of skew for timed events; all-day events compare civil dates, since the
// target stores those as bare dates.
func describeDrift(occ model.Occurrence, r target.Remote) string {
	if occ.Summary != r.Summary {
		return fmt.Sprintf("summary is %q on target", r.Summary)
	}
	if occ.AllDay || r.AllDay {
		if occ.AllDay != r.AllDay {
			return "all-day flag differs"
		}
		if occ.Start.Format("2006-01-02") != r.Start.UTC().Format("2006-01-02") {
			return fmt.Sprintf("date is %s on target", r.Start.UTC().Format("2006-01-02"))
		}
		return ""
	}
	delta := occ.Start.Sub(r.Start)
	if delta < 0 {
		delta = -delta
	}
	if delta > time.Minute {
		return fmt.Sprintf("start differs by %s", delta.Round(time.Second))
	}
	return ""
}
