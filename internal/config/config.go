package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used to interpret zone-less timestamps and
	// to normalize all-day spans (e.g. "America/New_York").
	Timezone string `yaml:"timezone"`

	// SourceCalendar is the calendar selector handed to the export command.
	SourceCalendar string `yaml:"source_calendar"`

	// OutboxDir is the directory the export step populates with .ics files.
	OutboxDir string `yaml:"outbox_dir"`

	// ExportCommand, if set, is run before each sync to refresh the outbox.
	// It receives the selector and window through environment variables.
	// Empty means the outbox is produced externally.
	ExportCommand string `yaml:"export_command,omitempty"`

	// Subscriptions are named ICS feeds fetched into the outbox before each
	// sync, alongside or instead of the export command.
	Subscriptions []Subscription `yaml:"subscriptions,omitempty"`

	// ICSCacheDir backs the conditional-request cache for subscriptions.
	ICSCacheDir string `yaml:"ics_cache_dir"`

	// Sanitize toggles the header-stripping pre-pass on raw calendar files.
	// Defaults to true when absent.
	Sanitize *bool `yaml:"sanitize,omitempty"`

	// GoogleCalendarID is the target calendar ("primary" or a calendar ID).
	GoogleCalendarID string `yaml:"google_calendar_id"`

	CredentialsPath string `yaml:"credentials_path"`
	TokenPath       string `yaml:"token_path"`
	StatePath       string `yaml:"state_path"`
	LockPath        string `yaml:"lock_path"`
	HealthPath      string `yaml:"health_path"`

	// SyncDaysPast / SyncDaysFuture bound the window of occurrences that
	// are mirrored: [now - past, now + future].
	SyncDaysPast   int `yaml:"sync_days_past"`
	SyncDaysFuture int `yaml:"sync_days_future"`

	// RetryMaxAttempts bounds per-operation retries of retryable failures.
	RetryMaxAttempts int `yaml:"retry_max_attempts"`
	// RetryBaseDelaySeconds is the first backoff delay; it doubles per
	// attempt up to RetryMaxDelaySeconds.
	RetryBaseDelaySeconds float64 `yaml:"retry_base_delay_seconds"`
	RetryMaxDelaySeconds  float64 `yaml:"retry_max_delay_seconds"`

	// APIRatePerSecond is the steady-state ceiling on target API calls,
	// shared across workers.
	APIRatePerSecond float64 `yaml:"api_rate_per_second"`

	// BatchWorkers is the number of concurrent adapter operations.
	// 1 keeps the run fully serial.
	BatchWorkers int `yaml:"batch_workers"`

	// DaemonSchedule is the cron expression for daemon mode.
	DaemonSchedule string `yaml:"daemon_schedule"`

	LogLevel string `yaml:"log_level"`
}

// Subscription is one remote ICS feed. Name becomes the outbox file name
// (<name>.ics), so it must be unique across the list.
type Subscription struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// baseDir returns the per-user data directory, ~/.calbridge.
func baseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".calbridge")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(baseDir(), "config.yaml")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	dir := baseDir()
	on := true
	return &Config{
		Timezone:              "America/New_York",
		SourceCalendar:        "Calendar",
		OutboxDir:             filepath.Join(dir, "outbox"),
		ExportCommand:         "",
		ICSCacheDir:           filepath.Join(dir, "ics-cache"),
		Sanitize:              &on,
		GoogleCalendarID:      "primary",
		CredentialsPath:       filepath.Join(dir, "credentials.json"),
		TokenPath:             filepath.Join(dir, "token.json"),
		StatePath:             filepath.Join(dir, "sync_state.json"),
		LockPath:              filepath.Join(dir, "calbridge.lock"),
		HealthPath:            filepath.Join(dir, "health.json"),
		SyncDaysPast:          30,
		SyncDaysFuture:        365,
		RetryMaxAttempts:      8,
		RetryBaseDelaySeconds: 1,
		RetryMaxDelaySeconds:  32,
		APIRatePerSecond:      4,
		BatchWorkers:          1,
		DaemonSchedule:        "*/15 * * * *",
		LogLevel:              "info",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.SourceCalendar == "" {
		c.SourceCalendar = def.SourceCalendar
	}
	if c.OutboxDir == "" {
		c.OutboxDir = def.OutboxDir
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}
	if c.Sanitize == nil {
		c.Sanitize = def.Sanitize
	}
	if c.GoogleCalendarID == "" {
		c.GoogleCalendarID = def.GoogleCalendarID
	}
	if c.CredentialsPath == "" {
		c.CredentialsPath = def.CredentialsPath
	}
	if c.TokenPath == "" {
		c.TokenPath = def.TokenPath
	}
	if c.StatePath == "" {
		c.StatePath = def.StatePath
	}
	if c.LockPath == "" {
		c.LockPath = def.LockPath
	}
	if c.HealthPath == "" {
		c.HealthPath = def.HealthPath
	}
	if c.SyncDaysPast <= 0 {
		c.SyncDaysPast = def.SyncDaysPast
	}
	if c.SyncDaysFuture <= 0 {
		c.SyncDaysFuture = def.SyncDaysFuture
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if c.RetryBaseDelaySeconds <= 0 {
		c.RetryBaseDelaySeconds = def.RetryBaseDelaySeconds
	}
	if c.RetryMaxDelaySeconds < c.RetryBaseDelaySeconds {
		c.RetryMaxDelaySeconds = def.RetryMaxDelaySeconds
	}
	if c.APIRatePerSecond <= 0 {
		c.APIRatePerSecond = def.APIRatePerSecond
	}
	if c.BatchWorkers < 1 {
		c.BatchWorkers = 1
	}
	if c.DaemonSchedule == "" {
		c.DaemonSchedule = def.DaemonSchedule
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".calbridge-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function:
//
//	cfg, _ := config.Load(path)
//	// ... mutate cfg ...
//	if err := cfg.Save(path); err != nil { ... }
func (c *Config) Save(path string) error {
	return Save(path, c)
}
