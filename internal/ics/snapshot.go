package ics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calbridge/internal/log"
)

// ErrEmptySnapshot marks a missing or empty outbox. Callers must treat it
// as an abort condition: with no snapshot there is no evidence that any
// tracked event disappeared, so nothing may be deleted.
var ErrEmptySnapshot = errors.New("calendar snapshot is missing or empty")

// Snapshot is the merged parse result of one outbox directory.
type Snapshot struct {
	Events []ParsedEvent

	// Files is the number of calendar files that contributed events.
	Files int
}

// Loader reads every .ics file under an outbox directory and merges the
// parsed events. Individual unreadable or unparseable files are logged and
// skipped; only a wholly unusable outbox fails the load.
type Loader struct {
	dir      string
	sanitize bool
	loc      *time.Location
}

// NewLoader returns a Loader for dir. When sanitize is set, each file runs
// through the vendor-property pre-pass before parsing. loc interprets
// zone-less timestamps.
func NewLoader(dir string, sanitize bool, loc *time.Location) *Loader {
	if loc == nil {
		loc = time.UTC
	}
	return &Loader{dir: dir, sanitize: sanitize, loc: loc}
}

// Load reads and parses the outbox. It returns ErrEmptySnapshot when the
// directory is missing, holds no .ics files, or all files are empty.
func (l *Loader) Load() (Snapshot, error) {
	var snap Snapshot

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return snap, fmt.Errorf("outbox %s: %w", l.dir, ErrEmptySnapshot)
		}
		return snap, fmt.Errorf("read outbox %s: %w", l.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".ics") {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return snap, fmt.Errorf("outbox %s has no calendar files: %w", l.dir, ErrEmptySnapshot)
	}

	nonEmpty := 0
	for _, name := range names {
		path := filepath.Join(l.dir, name)
		body, rerr := os.ReadFile(path)
		if rerr != nil {
			appLog.Error("snapshot file unreadable, skipped", rerr, "file", name)
			continue
		}
		if len(strings.TrimSpace(string(body))) == 0 {
			appLog.Warn("snapshot file is empty, skipped", "file", name)
			continue
		}
		nonEmpty++

		if l.sanitize {
			body = Sanitize(body)
		}

		events, perr := Parse(name, body, l.loc)
		if perr != nil {
			appLog.Error("snapshot file unparseable, skipped", perr, "file", name)
			continue
		}
		snap.Events = append(snap.Events, events...)
		snap.Files++
	}

	if nonEmpty == 0 {
		return snap, fmt.Errorf("outbox %s holds only empty files: %w", l.dir, ErrEmptySnapshot)
	}
	if snap.Files == 0 {
		return snap, fmt.Errorf("no calendar data parsed from %d files in %s", nonEmpty, l.dir)
	}

	appLog.Info("snapshot loaded", "dir", l.dir, "files", snap.Files, "events", len(snap.Events))
	return snap, nil
}
