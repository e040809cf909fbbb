// Package reconcile decides and applies the target-side operations that
// make the mirrored calendar match the current source snapshot: create what
// is new, patch what changed, leave the unchanged majority alone, and
// delete what disappeared. Every successful operation is recorded in the
// state store before the run moves on, so a crash mid-run never causes
// duplicate creation later.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	appLog "calbridge/internal/log"
	"calbridge/internal/model"
	"calbridge/internal/state"
	"calbridge/internal/target"
)

// Options configures a Reconciler.
type Options struct {
	// WindowStart / WindowEnd bound the sync window. They scope orphan
	// deletion: tracked entries outside the window are never deleted.
	WindowStart time.Time
	WindowEnd   time.Time

	// Retry governs per-operation retries of retryable adapter failures.
	Retry RetryPolicy

	// Workers bounds concurrent adapter operations. 1 keeps the run
	// strictly serial; higher values parallelize independent operations
	// while the state store and the adapter's rate limit stay shared.
	Workers int

	// CreateOnly drops updates and deletes from the plan before applying.
	CreateOnly bool
}

// Reconciler applies reconciliation runs against one store and adapter.
type Reconciler struct {
	store   *state.Store
	adapter target.Adapter
	opts    Options
}

// New builds a Reconciler. Zero option fields get safe defaults.
func New(store *state.Store, adapter target.Adapter, opts Options) *Reconciler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Reconciler{store: store, adapter: adapter, opts: opts}
}

// Plan computes the operation plan for the given occurrences without
// touching the target or the store. Dry runs use it to show what a real
// run would do.
func (r *Reconciler) Plan(occs []model.Occurrence) (Plan, error) {
	items := BuildItems(occs)
	entries := r.store.All()
	if err := CheckSource(items, entries, r.opts.WindowStart, r.opts.WindowEnd); err != nil {
		return Plan{}, err
	}
	p := BuildPlan(items, entries, r.opts.WindowStart, r.opts.WindowEnd)
	if r.opts.CreateOnly {
		p = p.CreateOnly()
	}
	return p, nil
}

// Run executes one reconciliation pass over the given occurrences and
// returns the run report. A fatal adapter error aborts immediately with
// the report of what completed before it; the store then reflects exactly
// the operations that succeeded. Retryable failures that exhaust their
// attempts demote to per-operation skips and never abort the run.
func (r *Reconciler) Run(ctx context.Context, occs []model.Occurrence) (model.Report, error) {
	started := time.Now()
	rep := &reportState{runID: uuid.NewString()}

	items := BuildItems(occs)
	entries := r.store.All()
	if err := CheckSource(items, entries, r.opts.WindowStart, r.opts.WindowEnd); err != nil {
		return rep.finish(started), err
	}

	plan := BuildPlan(items, entries, r.opts.WindowStart, r.opts.WindowEnd)
	if r.opts.CreateOnly {
		plan = plan.CreateOnly()
	}

	appLog.Info("reconcile plan",
		"run_id", rep.runID,
		"create", len(plan.Creates),
		"update", len(plan.Updates),
		"unchanged", len(plan.Unchanged),
		"delete", len(plan.Deletes),
		"workers", r.opts.Workers,
	)

	seenAt := time.Now().UTC()

	// Creates and updates run before deletions, so a run that dies in the
	// middle leaves extra events on the target rather than missing ones.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, it := range plan.Creates {
		g.Go(func() error { return r.applyCreate(gctx, it, seenAt, rep) })
	}
	for _, up := range plan.Updates {
		g.Go(func() error { return r.applyUpdate(gctx, up, seenAt, rep) })
	}
	if err := g.Wait(); err != nil {
		return rep.finish(started), err
	}

	// Unchanged fast path: no target calls, one batched store flush.
	ids := make([]string, len(plan.Unchanged))
	for i, it := range plan.Unchanged {
		ids[i] = it.ID
	}
	if err := r.store.Touch(ids, seenAt); err != nil {
		return rep.finish(started), fmt.Errorf("refresh unchanged entries: %w", err)
	}
	rep.addUnchanged(len(plan.Unchanged))

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for _, d := range plan.Deletes {
		g.Go(func() error { return r.applyDelete(gctx, d, rep) })
	}
	if err := g.Wait(); err != nil {
		return rep.finish(started), err
	}

	out := rep.finish(started)
	appLog.Info("reconcile done",
		"run_id", out.RunID,
		"created", out.Created,
		"updated", out.Updated,
		"deleted", out.Deleted,
		"unchanged", out.Unchanged,
		"skipped", out.Skipped,
		"duration", out.Duration.Round(time.Millisecond).String(),
	)
	return out, nil
}

// applyCreate inserts one new event and records the tracked entry. The
// entry is flushed before the function returns so a crash immediately
// after the insert cannot cause a second insert next run.
func (r *Reconciler) applyCreate(ctx context.Context, it Item, seenAt time.Time, rep *reportState) error {
	var eventID string
	err := r.opts.Retry.Execute(ctx, func() error {
		id, cerr := r.adapter.Create(ctx, adapterEvent(it))
		if cerr != nil {
			return cerr
		}
		eventID = id
		return nil
	})
	if err != nil {
		if target.IsFatal(err) {
			return err
		}
		rep.skip(fmt.Sprintf("create %q: %v", it.Occurrence.Summary, err))
		appLog.Error("create failed, skipped", err, "id", it.ID, "summary", it.Occurrence.Summary)
		return nil
	}

	entry := state.Entry{
		EventID:     eventID,
		Fingerprint: it.Fingerprint,
		Start:       it.Occurrence.Start.UTC(),
		LastSeen:    seenAt,
	}
	if perr := r.store.Put(it.ID, entry); perr != nil {
		// Without the record, the next run would create this event again.
		return fmt.Errorf("record created event %s: %w", eventID, perr)
	}
	rep.addCreated()
	appLog.Debug("created", "id", it.ID, "event_id", eventID, "summary", it.Occurrence.Summary)
	return nil
}

// applyUpdate patches one changed event. A not-found response means the
// tracked event vanished on the target; the stale mapping is replaced by
// recreating the event.
func (r *Reconciler) applyUpdate(ctx context.Context, up Update, seenAt time.Time, rep *reportState) error {
	err := r.opts.Retry.Execute(ctx, func() error {
		return r.adapter.Update(ctx, up.EventID, adapterEvent(up.Item))
	})
	if target.IsNotFound(err) {
		appLog.Warn("tracked event missing on target, recreating", "id", up.ID, "event_id", up.EventID)
		return r.applyCreate(ctx, up.Item, seenAt, rep)
	}
	if err != nil {
		if target.IsFatal(err) {
			return err
		}
		rep.skip(fmt.Sprintf("update %q: %v", up.Occurrence.Summary, err))
		appLog.Error("update failed, skipped", err, "id", up.ID, "event_id", up.EventID)
		return nil
	}

	entry := state.Entry{
		EventID:     up.EventID,
		Fingerprint: up.Fingerprint,
		Start:       up.Occurrence.Start.UTC(),
		LastSeen:    seenAt,
	}
	if perr := r.store.Put(up.ID, entry); perr != nil {
		return fmt.Errorf("record updated event %s: %w", up.EventID, perr)
	}
	rep.addUpdated()
	appLog.Debug("updated", "id", up.ID, "event_id", up.EventID, "summary", up.Occurrence.Summary)
	return nil
}

// applyDelete removes one orphaned event. Not-found counts as success:
// the goal state (event gone) already holds, so the entry is dropped
// either way.
func (r *Reconciler) applyDelete(ctx context.Context, d Deletion, rep *reportState) error {
	err := r.opts.Retry.Execute(ctx, func() error {
		return r.adapter.Delete(ctx, d.EventID)
	})
	if err != nil && !target.IsNotFound(err) {
		if target.IsFatal(err) {
			return err
		}
		rep.skip(fmt.Sprintf("delete %s: %v", d.EventID, err))
		appLog.Error("delete failed, skipped", err, "id", d.ID, "event_id", d.EventID)
		return nil
	}
	if target.IsNotFound(err) {
		appLog.Debug("event already gone on target", "id", d.ID, "event_id", d.EventID)
	}

	if rerr := r.store.Remove(d.ID); rerr != nil {
		return fmt.Errorf("drop tracked entry %s: %w", d.ID, rerr)
	}
	rep.addDeleted()
	appLog.Debug("deleted", "id", d.ID, "event_id", d.EventID)
	return nil
}

// adapterEvent renders an item as the adapter payload.
func adapterEvent(it Item) target.Event {
	occ := it.Occurrence
	return target.Event{
		Summary:     occ.Summary,
		Description: occ.Description,
		Location:    occ.Location,
		Start:       occ.Start,
		End:         occ.End,
		AllDay:      occ.AllDay,
		CompositeID: it.ID,
	}
}

// reportState accumulates run counters behind a mutex so batch-mode
// workers can record results concurrently.
type reportState struct {
	mu        sync.Mutex
	runID     string
	created   int
	updated   int
	deleted   int
	unchanged int
	skipped   int
	errs      []string
}

func (r *reportState) addCreated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *reportState) addUpdated() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updated++
}

func (r *reportState) addDeleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted++
}

func (r *reportState) addUnchanged(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unchanged += n
}

func (r *reportState) skip(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skipped++
	r.errs = append(r.errs, reason)
}

func (r *reportState) finish(started time.Time) model.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return model.Report{
		RunID:     r.runID,
		Created:   r.created,
		Updated:   r.updated,
		Deleted:   r.deleted,
		Unchanged: r.unchanged,
		Skipped:   r.skipped,
		Errors:    r.errs,
		Duration:  time.Since(started),
	}
}
