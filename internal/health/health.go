// Package health maintains the machine-readable status document that
// external monitoring watches. The daemon rewrites it after every run;
// `calbridge status` renders it.
package health

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Status values written to the document.
const (
	StatusOK      = "ok"
	StatusFailing = "failing"
)

// Document is the status file schema.
type Document struct {
	Status              string    `json:"status"`
	Version             string    `json:"version"`
	LastSuccessfulSync  time.Time `json:"last_successful_sync"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Read loads the document at path. A missing file yields a zero document
// and no error; monitoring treats that as "never ran".
func Read(path string) (Document, error) {
	var doc Document
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("read health %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parse health %s: %w", path, err)
	}
	return doc, nil
}

// Write atomically replaces the document at path. The file stays
// world-readable so monitoring agents need no special access.
func Write(path string, doc Document) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("prepare health directory: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".health-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// RecordSuccess transitions the document after a clean run: status ok,
// failure streak reset, success timestamp advanced.
func RecordSuccess(path, version string, at time.Time) error {
	doc, err := Read(path)
	if err != nil {
		// A corrupt document is replaced rather than blocking the run.
		doc = Document{}
	}
	doc.Status = StatusOK
	doc.Version = version
	doc.LastSuccessfulSync = at.UTC()
	doc.ConsecutiveFailures = 0
	doc.LastError = ""
	return Write(path, doc)
}

// RecordFailure transitions the document after a failed run: the streak
// grows and the error is surfaced, while the last success timestamp is
// kept so monitoring can measure staleness.
func RecordFailure(path, version string, runErr error) error {
	doc, err := Read(path)
	if err != nil {
		doc = Document{}
	}
	doc.Status = StatusFailing
	doc.Version = version
	doc.ConsecutiveFailures++
	if runErr != nil {
		doc.LastError = runErr.Error()
	}
	return Write(path, doc)
}
