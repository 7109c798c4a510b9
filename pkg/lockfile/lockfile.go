// Package lockfile provides a PID-based lock file for mutual exclusion
// between processes sharing a data directory.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock guards a resource with a lock file holding the owner's PID.
// Stale locks left by dead processes are detected and removed.
type Lock struct {
	path string
}

func New(path string) *Lock {
	return &Lock{path: path}
}

// Acquire takes the lock, failing if a live process already holds it.
func (l *Lock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if err := l.create(); err == nil {
		return nil
	} else if !os.IsExist(err) {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Holder released between our create and read.
			return l.retry()
		}
		return fmt.Errorf("failed to read existing lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Unreadable contents, treat the lock as stale.
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove invalid lock file: %w", err)
		}
		return l.retry()
	}

	if processExists(pid) {
		return fmt.Errorf("locked by running process %d", pid)
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale lock file: %w", err)
	}
	return l.retry()
}

// Release removes the lock file. Releasing an unheld lock is a no-op.
func (l *Lock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (l *Lock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, writeErr := fmt.Fprintf(f, "%d", os.Getpid())
	closeErr := f.Close()
	if writeErr != nil || closeErr != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", writeErr)
	}
	return nil
}

// retry attempts creation once more after a stale lock was removed.
func (l *Lock) retry() error {
	if err := l.create(); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lock taken by another process during retry")
		}
		return err
	}
	return nil
}

// processExists checks whether a PID is alive using signal 0.
func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
