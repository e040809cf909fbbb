package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sync_state.json")
}

func TestOpen_MissingFileStartsEmpty(t *testing.T) {
	s, err := Open(tempStorePath(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("new store has %d entries, want 0", s.Len())
	}
}

func TestPutGetRemove_PersistAcrossOpens(t *testing.T) {
	path := tempStorePath(t)

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	entry := Entry{
		EventID:     "event42",
		Fingerprint: "abc123",
		Start:       time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
		LastSeen:    time.Now().UTC(),
	}
	if err := s.Put("composite-1", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Every mutation flushes, so a fresh Open must see the entry.
	reopened, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := reopened.Get("composite-1")
	if !ok {
		t.Fatal("entry missing after reopen")
	}
	if got.EventID != "event42" || got.Fingerprint != "abc123" {
		t.Errorf("entry corrupted across reopen: %+v", got)
	}
	if !got.Start.Equal(entry.Start) {
		t.Errorf("start mismatch: %v != %v", got.Start, entry.Start)
	}

	if err := reopened.Remove("composite-1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	final, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := final.Get("composite-1"); ok {
		t.Error("entry survived Remove + reopen")
	}
}

func TestRemove_AbsentIDIsNoOp(t *testing.T) {
	s, err := Open(tempStorePath(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove("never-existed"); err != nil {
		t.Errorf("Remove of absent id errored: %v", err)
	}
}

func TestIDs_Sorted(t *testing.T) {
	s, err := Open(tempStorePath(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := s.Put(id, Entry{EventID: id}); err != nil {
			t.Fatal(err)
		}
	}
	ids := s.IDs()
	want := []string{"alpha", "bravo", "charlie"}
	if len(ids) != len(want) {
		t.Fatalf("IDs() returned %d ids, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}
}

func TestOpen_MigratesLegacyFlatMap(t *testing.T) {
	path := tempStorePath(t)
	legacy := map[string]string{
		"ab12": "eventA",
		"cd34": "eventB",
	}
	data, _ := json.Marshal(legacy)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open on legacy file failed: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("migrated %d entries, want 2", s.Len())
	}
	e, ok := s.Get("ab12")
	if !ok || e.EventID != "eventA" {
		t.Errorf("legacy entry lost: %+v ok=%v", e, ok)
	}
	if e.Fingerprint != "" {
		t.Error("migrated entry must carry an empty fingerprint so it gets refreshed")
	}

	// The migration is persisted: the file must now be version 2.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != 2 {
		t.Errorf("migrated file version = %d, want 2", doc.Version)
	}
}

func TestOpen_RefusesUnknownVersion(t *testing.T) {
	path := tempStorePath(t)
	if err := os.WriteFile(path, []byte(`{"version": 9, "entries": {}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open accepted a state file from the future")
	}
}

func TestOpen_RefusesCorruptFile(t *testing.T) {
	path := tempStorePath(t)
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("Open accepted corrupt state; that risks duplicate creation")
	}
}

func TestSave_NoTempFileLeftBehind(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Put("x", Entry{EventID: "e"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind after flush")
	}
}
