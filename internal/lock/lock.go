// Package lock serializes reconciliation runs with a PID lock file. Two
// processes mutating the same state store would corrupt the mirror, so
// every run acquires the lock first. Lock presence alone is not trusted:
// the recorded holder is probed, and a dead holder's lock is stolen so a
// crash never blocks syncing forever.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	appLog "calbridge/internal/log"
)

// ErrHeld reports that a live process holds the lock.
var ErrHeld = errors.New("another run holds the lock")

// Lock is a held lock file.
type Lock struct {
	path string
}

// Acquire takes the lock at path for the current process. An existing
// lock file is probed: a live holder returns ErrHeld, a dead or
// unreadable holder is evicted with a diagnostic and the lock is retaken.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("prepare lock directory: %w", err)
	}

	for attempt := 0; ; attempt++ {
		l, err := tryCreate(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock %s: %w", path, err)
		}

		holder, herr := holderPID(path)
		if herr == nil && processAlive(holder) {
			return nil, fmt.Errorf("%w (pid %d, %s)", ErrHeld, holder, path)
		}
		if attempt >= 1 {
			// Stole once already and the file is back: someone else is
			// racing acquisitions, let this run bail.
			return nil, fmt.Errorf("lock %s: lost steal race", path)
		}

		if herr != nil {
			appLog.Warn("lock file unreadable, evicting", "path", path, "error", herr.Error())
		} else {
			appLog.Warn("lock holder is dead, evicting", "path", path, "holder_pid", holder)
		}
		if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock %s: %w", path, rerr)
		}
	}
}

// Release drops the lock. Safe to call after the run finished in any state.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// tryCreate attempts the exclusive create and writes the holder PID.
func tryCreate(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		return nil, errors.Join(werr, cerr)
	}
	return &Lock{path: path}, nil
}

// holderPID reads the PID recorded in the lock file.
func holderPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("lock content %q is not a pid", strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// processAlive probes a PID with signal 0. EPERM still means the process
// exists, just under another user.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
