package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "calbridge.lock")
}

func TestAcquire_WritesOwnPID(t *testing.T) {
	path := lockPath(t)
	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer l.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("lock content %q is not a pid", data)
	}
	if pid != os.Getpid() {
		t.Errorf("lock records pid %d, want %d", pid, os.Getpid())
	}
}

func TestAcquire_HeldByLiveProcessFails(t *testing.T) {
	path := lockPath(t)
	l, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Release()

	// This test process is the live holder.
	if _, err := Acquire(path); !errors.Is(err, ErrHeld) {
		t.Errorf("second Acquire = %v, want ErrHeld", err)
	}
}

func TestAcquire_StealsFromDeadHolder(t *testing.T) {
	path := lockPath(t)
	// A pid far above any real pid_max: guaranteed dead.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire over dead holder: %v", err)
	}
	defer l.Release()

	data, _ := os.ReadFile(path)
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Errorf("stolen lock records %q, want our pid", got)
	}
}

func TestAcquire_StealsUnreadableLock(t *testing.T) {
	path := lockPath(t)
	if err := os.WriteFile(path, []byte("not a pid"), 0o600); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(path)
	if err != nil {
		t.Fatalf("Acquire over garbage lock: %v", err)
	}
	l.Release()
}

func TestRelease_AllowsReacquire(t *testing.T) {
	path := lockPath(t)
	l, err := Acquire(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file survives Release: %v", err)
	}

	l2, err := Acquire(path)
	if err != nil {
		t.Fatalf("reacquire after Release: %v", err)
	}
	l2.Release()

	// Double Release is harmless.
	if err := l.Release(); err != nil {
		t.Errorf("second Release errored: %v", err)
	}
}
