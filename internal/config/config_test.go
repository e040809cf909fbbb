package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.yaml")
}

func TestLoad_FirstRunCreatesDefault(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load on missing file failed: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file should exist after first Load: %v", err)
	}

	if cfg.Timezone != "America/New_York" {
		t.Errorf("default timezone = %q, want America/New_York", cfg.Timezone)
	}
	if cfg.SyncDaysPast != 30 || cfg.SyncDaysFuture != 365 {
		t.Errorf("default window = (%d, %d), want (30, 365)", cfg.SyncDaysPast, cfg.SyncDaysFuture)
	}
	if cfg.RetryMaxAttempts != 8 {
		t.Errorf("default retry_max_attempts = %d, want 8", cfg.RetryMaxAttempts)
	}
	if cfg.Sanitize == nil || !*cfg.Sanitize {
		t.Error("sanitize should default to enabled")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("config file perm = %o, want 600", perm)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := DefaultConfig()
	original.Timezone = "Europe/Berlin"
	original.SourceCalendar = "Work"
	original.GoogleCalendarID = "abc123@group.calendar.google.com"
	original.SyncDaysPast = 7
	original.SyncDaysFuture = 90
	original.BatchWorkers = 4
	original.LogLevel = "debug"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Timezone != original.Timezone {
		t.Errorf("Timezone mismatch: %v != %v", loaded.Timezone, original.Timezone)
	}
	if loaded.SourceCalendar != original.SourceCalendar {
		t.Errorf("SourceCalendar mismatch: %v != %v", loaded.SourceCalendar, original.SourceCalendar)
	}
	if loaded.GoogleCalendarID != original.GoogleCalendarID {
		t.Errorf("GoogleCalendarID mismatch: %v != %v", loaded.GoogleCalendarID, original.GoogleCalendarID)
	}
	if loaded.SyncDaysPast != 7 || loaded.SyncDaysFuture != 90 {
		t.Errorf("window mismatch: (%d, %d)", loaded.SyncDaysPast, loaded.SyncDaysFuture)
	}
	if loaded.BatchWorkers != 4 {
		t.Errorf("BatchWorkers mismatch: %d != 4", loaded.BatchWorkers)
	}
	if loaded.LogLevel != "debug" {
		t.Errorf("LogLevel mismatch: %v", loaded.LogLevel)
	}
}

func TestNormalize_FillsMissingValues(t *testing.T) {
	cfg := &Config{Timezone: "UTC"}
	cfg.Normalize()

	if cfg.GoogleCalendarID != "primary" {
		t.Errorf("GoogleCalendarID = %q, want primary", cfg.GoogleCalendarID)
	}
	if cfg.RetryBaseDelaySeconds != 1 {
		t.Errorf("RetryBaseDelaySeconds = %v, want 1", cfg.RetryBaseDelaySeconds)
	}
	if cfg.RetryMaxDelaySeconds != 32 {
		t.Errorf("RetryMaxDelaySeconds = %v, want 32", cfg.RetryMaxDelaySeconds)
	}
	if cfg.BatchWorkers != 1 {
		t.Errorf("BatchWorkers = %d, want 1", cfg.BatchWorkers)
	}
	if cfg.DaemonSchedule == "" {
		t.Error("DaemonSchedule should be defaulted")
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("explicit Timezone overwritten: %q", cfg.Timezone)
	}
}

func TestNormalize_ClampsBadValues(t *testing.T) {
	cfg := &Config{
		SyncDaysPast:          -3,
		RetryBaseDelaySeconds: 5,
		RetryMaxDelaySeconds:  2, // below base; must be reset
		BatchWorkers:          0,
	}
	cfg.Normalize()

	if cfg.SyncDaysPast != 30 {
		t.Errorf("SyncDaysPast = %d, want 30", cfg.SyncDaysPast)
	}
	if cfg.RetryMaxDelaySeconds < cfg.RetryBaseDelaySeconds {
		t.Errorf("RetryMaxDelaySeconds %v < base %v", cfg.RetryMaxDelaySeconds, cfg.RetryBaseDelaySeconds)
	}
	if cfg.BatchWorkers != 1 {
		t.Errorf("BatchWorkers = %d, want 1", cfg.BatchWorkers)
	}
}

func TestLoad_PartialFileKeepsExplicitValues(t *testing.T) {
	path := tempConfigPath(t)
	partial := "timezone: Asia/Tokyo\nsync_days_future: 60\n"
	if err := os.WriteFile(path, []byte(partial), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timezone != "Asia/Tokyo" {
		t.Errorf("Timezone = %q, want Asia/Tokyo", cfg.Timezone)
	}
	if cfg.SyncDaysFuture != 60 {
		t.Errorf("SyncDaysFuture = %d, want 60", cfg.SyncDaysFuture)
	}
	if cfg.SyncDaysPast != 30 {
		t.Errorf("SyncDaysPast = %d, want defaulted 30", cfg.SyncDaysPast)
	}
}

func TestSave_AtomicNoTempLeftBehind(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid YAML: %v", err)
	}
}
