// Package export refreshes the snapshot outbox before a run. Two producers
// feed it: an optional black-box desktop export command, and optional
// subscribed ICS feeds fetched over HTTP. Everything downstream only ever
// reads .ics files from the outbox directory.
package export

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	appLog "calbridge/internal/log"
)

// DefaultTimeout bounds one export command invocation.
const DefaultTimeout = 120 * time.Second

// Environment handed to the export command. The command decides how to
// talk to the desktop calendar; these tell it what to export and where.
const (
	envCalendar    = "CALBRIDGE_CALENDAR"
	envOutbox      = "CALBRIDGE_OUTBOX"
	envWindowStart = "CALBRIDGE_WINDOW_START"
	envWindowEnd   = "CALBRIDGE_WINDOW_END"
)

// Runner drives the desktop export step. Command is a shell line; it must
// leave one or more .ics files in the outbox when it exits zero.
type Runner struct {
	Command  string
	Calendar string
	Outbox   string
	Timeout  time.Duration
}

// Refresh runs the export command with the window in its environment.
// No configured command is a no-op: the outbox is produced externally.
// A non-zero exit aborts the refresh; reconciling against a half-written
// outbox would be indistinguishable from mass deletion at the source.
func (r *Runner) Refresh(ctx context.Context, winStart, winEnd time.Time) error {
	if r.Command == "" {
		return nil
	}
	if err := os.MkdirAll(r.Outbox, 0o700); err != nil {
		return fmt.Errorf("prepare outbox: %w", err)
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", r.Command)
	cmd.Env = append(os.Environ(),
		envCalendar+"="+r.Calendar,
		envOutbox+"="+r.Outbox,
		envWindowStart+"="+winStart.Format(time.RFC3339),
		envWindowEnd+"="+winEnd.Format(time.RFC3339),
	)

	appLog.Info("export command start", "calendar", r.Calendar, "outbox", r.Outbox)
	started := time.Now()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("export command failed: %w\noutput: %s", err, strings.TrimSpace(string(out)))
	}
	appLog.Info("export command done",
		"duration", time.Since(started).Round(time.Millisecond).String(),
		"output_bytes", len(out),
	)
	return nil
}
