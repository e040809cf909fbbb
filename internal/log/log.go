// Package log is a small leveled logging facade over log/slog. Call sites
// pass a message plus alternating key/value pairs:
//
//	log.Info("sync completed", "created", 3, "deleted", 1)
//	log.Error("state save failed", err, "path", path)
package log

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	mu      sync.Mutex
	level   = new(slog.LevelVar)
	handler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	logger               = slog.New(handler)
)

// SetLevel adjusts the minimum level. Accepts "debug", "info", "warn",
// "error" (case-insensitive); anything else leaves the level at info.
func SetLevel(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info", "":
		level.Set(slog.LevelInfo)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetOutput replaces the handler, primarily for tests that want to capture
// log lines.
func SetOutput(h slog.Handler) {
	mu.Lock()
	defer mu.Unlock()
	logger = slog.New(h)
}

func Debug(msg string, kv ...any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	l.Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	l.Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	l.Warn(msg, kv...)
}

// Error logs msg at error level with err prepended as the "err" attribute.
func Error(msg string, err error, kv ...any) {
	mu.Lock()
	l := logger
	mu.Unlock()
	extended := append([]any{"err", err}, kv...)
	l.Error(msg, extended...)
}
