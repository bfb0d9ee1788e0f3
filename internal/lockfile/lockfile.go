// Package lockfile provides directory-based locking to prevent multiple PushRelay instances.
//
// Two relays sharing one state directory would race on the snapshot and
// double-forward jobs. The lock uses flock(2), which the kernel releases
// automatically when the process exits (gracefully or not).
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "pushrelay.lock"

// Lock is a held state-directory lock. A released Lock is inert and Release
// may be called again without effect.
type Lock struct {
	file *os.File
	path string
}

// LockError reports that the state directory is held by another process.
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("Another PushRelay instance is already running using the same state directory (lock file: %s", e.LockPath)
	if e.ExistingInfo != "" {
		msg += ", holder: " + e.ExistingInfo
	}
	msg += ").\nRemove the lock file only if you are certain no other instance is running; " +
		"two relays sharing a state directory can forward the same job twice."
	return msg
}

func (e *LockError) Unwrap() error { return e.Cause }

// AcquireLock takes an exclusive non-blocking lock on stateDir, creating the
// directory if needed. On conflict it returns a *LockError describing the
// current holder.
//
// The lock file is opened without O_TRUNC so that a losing contender can
// still read the holder's PID out of it.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Attempting to acquire lock", "lock_path", lockPath, "state_dir", stateDir)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(lockPath)
		slog.Error("Failed to acquire lock - another PushRelay instance is running",
			"lock_path", lockPath, "holder", holder, "error", err)
		return nil, &LockError{LockPath: lockPath, ExistingInfo: holder, Cause: err}
	}

	// The flock is ours; now it is safe to replace any stale holder info.
	if err := file.Truncate(0); err == nil {
		_, err = fmt.Fprintf(file, "pid=%d\n", os.Getpid())
	}
	if err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "lock_path", lockPath, "error", err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Release drops the flock and removes the lock file. Safe to call repeatedly.
func (l *Lock) Release() error {
	if l.file == nil {
		slog.Debug("Lock already released", "lock_path", l.path)
		return nil
	}

	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	// Removal is best-effort; the flock itself is already gone.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "lock_path", l.path, "error", err)
	}
	l.file = nil

	if err := errors.Join(errs...); err != nil {
		slog.Error("Failed to release lock cleanly", "lock_path", l.path, "error", err)
		return err
	}
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

// describeHolder reads the existing lock file and reports who holds it.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	content := string(data)
	if content == "" {
		return "lock file exists but contains no process information"
	}
	if pid := extractPIDFromLockInfo(content); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running - stale lock)", pid)
	}
	return fmt.Sprintf("process information: %s", content)
}

// extractPIDFromLockInfo pulls the PID out of a "pid=N" line, or 0 if absent.
func extractPIDFromLockInfo(content string) int {
	for _, line := range strings.Split(content, "\n") {
		rest, ok := strings.CutPrefix(line, "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(strings.TrimSpace(rest)); err == nil && pid > 0 {
			return pid
		}
	}
	return 0
}

// isProcessRunning probes a PID with signal 0, which checks deliverability
// without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
