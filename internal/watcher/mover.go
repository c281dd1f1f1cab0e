package watcher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// relocate creates destDir if needed and moves src to target.
// Callers hold the watcher's move lock.
func relocate(src, destDir, target string) error {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return &MoveError{Source: src, Target: target, Err: err}
	}

	err := os.Rename(src, target)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return &MoveError{Source: src, Target: target, Err: err}
	}

	// Different filesystems: copy then remove, regular files only
	info, statErr := os.Lstat(src)
	if statErr != nil {
		return &MoveError{Source: src, Target: target, Err: statErr}
	}
	if !info.Mode().IsRegular() {
		return &MoveError{Source: src, Target: target, Err: fmt.Errorf("cross-device move of %s entries is not supported: %w", info.Mode().Type(), err)}
	}
	if err := copyFile(src, target, info.Mode().Perm()); err != nil {
		return &MoveError{Source: src, Target: target, Err: err}
	}
	if err := os.Remove(src); err != nil {
		return &MoveError{Source: src, Target: target, Err: fmt.Errorf("copied but could not remove source: %w", err)}
	}
	return nil
}

// copyFile writes src to a temp file beside dst and renames it into place,
// so a partial copy never appears under the final name
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".conveyor-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after successful rename

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
