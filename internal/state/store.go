// Package state persists the mapping from composite occurrence identifiers
// to the target events created for them. The store is the run-to-run memory
// that lets reconciliation work without listing the target calendar.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	appLog "calbridge/internal/log"
)

// schemaVersion is the on-disk document version. Version 1 is the historic
// flat map of composite id to event id and is migrated on open.
const schemaVersion = 2

// Entry tracks one mirrored occurrence.
type Entry struct {
	// EventID is the identifier the target assigned on create.
	EventID string `json:"event_id"`

	// Fingerprint is the content hash at the time of the last write to the
	// target. An empty fingerprint never matches, forcing a refresh update.
	Fingerprint string `json:"fingerprint,omitempty"`

	// Start is the occurrence start, recorded so orphan deletion can be
	// scoped to the active sync window.
	Start time.Time `json:"start"`

	// LastSeen is when a snapshot last contained this occurrence.
	LastSeen time.Time `json:"last_seen"`
}

type document struct {
	Version   int              `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// Store is a single-writer persistent map keyed by composite id. Every
// mutating operation flushes to disk before returning, so a crash between
// operations never loses an acknowledged write. External mutual exclusion
// (the run lock) keeps concurrent processes out.
type Store struct {
	mu      sync.RWMutex
	path    string
	entries map[string]Entry
}

// Open loads the store at path, creating an empty one when the file does
// not exist. A version 1 file (flat composite id to event id map) is
// migrated in place: entries get empty fingerprints so the next run
// refreshes them instead of trusting stale content.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]Entry)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err == nil && doc.Version != 0 {
		if doc.Version > schemaVersion {
			return nil, fmt.Errorf("state %s has unsupported version %d", path, doc.Version)
		}
		if doc.Entries != nil {
			s.entries = doc.Entries
		}
		return s, nil
	}

	// Legacy layout: a flat JSON object of composite id -> event id.
	var legacy map[string]string
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("state %s is not a recognized format: %w", path, err)
	}
	for id, eventID := range legacy {
		s.entries[id] = Entry{EventID: eventID}
	}
	appLog.Info("migrated legacy state file", "path", path, "entries", len(legacy))
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("persist migrated state: %w", err)
	}
	return s, nil
}

// Get returns the entry for a composite id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Put records an entry and flushes.
func (s *Store) Put(id string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
	return s.save()
}

// Touch refreshes LastSeen for every given id that is tracked, in a single
// flush. This is the unchanged fast path: the entries' event ids and
// fingerprints are left alone.
func (s *Store) Touch(ids []string, seen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, id := range ids {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		e.LastSeen = seen
		s.entries[id] = e
		changed = true
	}
	if !changed {
		return nil
	}
	return s.save()
}

// Remove deletes an entry and flushes. Removing an absent id is a no-op.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	return s.save()
}

// IDs returns all tracked composite ids, sorted for deterministic plans.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns a copy of every entry keyed by composite id.
func (s *Store) All() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for id, e := range s.entries {
		out[id] = e
	}
	return out
}

// Len reports the number of tracked entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// save writes the document atomically: temp file in the same directory,
// fsync-free rename over the target. Callers hold s.mu.
func (s *Store) save() error {
	doc := document{
		Version:   schemaVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   s.entries,
	}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
