package model

import "time"

// Occurrence is a single concrete calendar instance after recurrence
// expansion and timezone normalization. Recurring events contribute one
// Occurrence per expanded instance; overridden instances carry the
// RECURRENCE-ID that moved them.
type Occurrence struct {
	// SourceFile is the snapshot file this occurrence came from, for
	// diagnostics only. It never participates in identity.
	SourceFile string

	UID string

	// RecurrenceID is the raw RECURRENCE-ID value for overridden instances
	// of a recurring event, empty otherwise. It participates in identity so
	// an override and the base instance it replaces stay distinguishable.
	RecurrenceID string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Start and End are in the configured timezone. All-day occurrences
	// span midnight to midnight with an exclusive end.
	Start time.Time
	End   time.Time
}

// Duration returns the occurrence span.
func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// Report summarizes one reconciliation run.
type Report struct {
	RunID     string        `json:"run_id"`
	DryRun    bool          `json:"dry_run,omitempty"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Deleted   int           `json:"deleted"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Errors    []string      `json:"errors,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Ok reports whether the run completed without skips or errors.
func (r Report) Ok() bool {
	return r.Skipped == 0 && len(r.Errors) == 0
}
