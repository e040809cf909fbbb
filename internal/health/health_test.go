package health

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func healthPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "health.json")
}

func TestRead_MissingFileIsZeroDocument(t *testing.T) {
	doc, err := Read(healthPath(t))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if doc.Status != "" || doc.ConsecutiveFailures != 0 {
		t.Errorf("missing file yielded %+v", doc)
	}
}

func TestRecordSuccess_ResetsFailureStreak(t *testing.T) {
	path := healthPath(t)

	if err := RecordFailure(path, "1.0.0", errors.New("api unreachable")); err != nil {
		t.Fatal(err)
	}
	if err := RecordFailure(path, "1.0.0", errors.New("api unreachable")); err != nil {
		t.Fatal(err)
	}
	doc, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusFailing || doc.ConsecutiveFailures != 2 {
		t.Fatalf("after two failures: %+v", doc)
	}
	if doc.LastError != "api unreachable" {
		t.Errorf("last error = %q", doc.LastError)
	}

	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	if err := RecordSuccess(path, "1.0.0", at); err != nil {
		t.Fatal(err)
	}
	doc, err = Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusOK || doc.ConsecutiveFailures != 0 || doc.LastError != "" {
		t.Fatalf("after success: %+v", doc)
	}
	if !doc.LastSuccessfulSync.Equal(at) {
		t.Errorf("last success = %v, want %v", doc.LastSuccessfulSync, at)
	}
}

func TestRecordFailure_KeepsLastSuccessTimestamp(t *testing.T) {
	path := healthPath(t)
	at := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	if err := RecordSuccess(path, "1.0.0", at); err != nil {
		t.Fatal(err)
	}
	if err := RecordFailure(path, "1.0.0", errors.New("throttled all run")); err != nil {
		t.Fatal(err)
	}

	doc, err := Read(path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Status != StatusFailing || doc.ConsecutiveFailures != 1 {
		t.Fatalf("after failure: %+v", doc)
	}
	if !doc.LastSuccessfulSync.Equal(at) {
		t.Errorf("failure erased the last success timestamp: %+v", doc)
	}
}

func TestRecordFailure_ReplacesCorruptDocument(t *testing.T) {
	path := healthPath(t)
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := RecordFailure(path, "1.0.0", errors.New("boom")); err != nil {
		t.Fatalf("RecordFailure over corrupt file: %v", err)
	}
	doc, err := Read(path)
	if err != nil {
		t.Fatalf("document still corrupt: %v", err)
	}
	if doc.ConsecutiveFailures != 1 {
		t.Errorf("streak = %d, want 1", doc.ConsecutiveFailures)
	}
}
