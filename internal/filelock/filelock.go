// Package filelock guards the daemon against running twice on one home
// directory and writes export files atomically.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// InstanceLockName is the lock file created inside the conveyor home
const InstanceLockName = "conveyor.lock"

// AlreadyRunningError is returned when another daemon holds the instance lock
type AlreadyRunningError struct {
	LockPath string
	PID      int // 0 when the holder's PID could not be read
}

// Error implements the error interface for AlreadyRunningError.
func (e *AlreadyRunningError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("another conveyor daemon (pid %d) holds %s", e.PID, e.LockPath)
	}
	return fmt.Sprintf("another conveyor daemon holds %s", e.LockPath)
}

// IsAlreadyRunning checks if the error is or wraps an AlreadyRunningError.
func IsAlreadyRunning(err error) bool {
	if err == nil {
		return false
	}
	var are *AlreadyRunningError
	return errors.As(err, &are)
}

// InstanceLock is an exclusive, non-blocking lock held for the daemon's lifetime.
type InstanceLock struct {
	flock *flock.Flock
	path  string
}

// AcquireInstanceLock takes the instance lock in dir without blocking.
// The holder's PID is written into the lock file so a second daemon can name it.
func AcquireInstanceLock(dir string) (*InstanceLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, InstanceLockName)
	fl := flock.New(path)

	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to try lock on %s: %w", path, err)
	}
	if !acquired {
		return nil, &AlreadyRunningError{LockPath: path, PID: readPID(path)}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0644); err != nil {
		fl.Unlock()
		return nil, fmt.Errorf("failed to record pid in %s: %w", path, err)
	}

	return &InstanceLock{flock: fl, path: path}, nil
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Path returns the lock file path
func (l *InstanceLock) Path() string {
	return l.path
}

// Release unlocks the instance lock. The lock file is left in place.
func (l *InstanceLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// AtomicWrite writes data to a file atomically using a temp file and rename strategy.
// Readers never see partial writes; on failure the original file is unchanged.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Same directory as the target, so the rename stays on one filesystem
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	defer func() {
		if tempFile != nil {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tempPath, 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file to %s: %w", path, err)
	}

	// Renamed into place, nothing to clean up
	tempFile = nil

	return nil
}
