// Package stability decides when a newly observed filesystem entry has
// finished being written.
//
// The heuristic samples the entry's size at a fixed interval and declares it
// stable once two consecutive samples are equal and non-zero. Writers that
// truncate or preallocate sparse files can defeat it; that is accepted.
package stability

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultInterval is the sampling interval used when none is configured
const DefaultInterval = time.Second

// Outcome is the result of waiting for an entry to settle
type Outcome int

const (
	// Stable means two consecutive samples were equal and non-zero
	Stable Outcome = iota
	// Vanished means a sample failed (entry removed, permission denied)
	Vanished
	// Cancelled means the caller's context ended first
	Cancelled
	// TimedOut means MaxWait elapsed before the entry settled
	TimedOut
)

// String returns a human-readable representation of the outcome
func (o Outcome) String() string {
	switch o {
	case Stable:
		return "stable"
	case Vanished:
		return "vanished"
	case Cancelled:
		return "cancelled"
	case TimedOut:
		return "timed out"
	default:
		return "unknown"
	}
}

// AbandonedError reports a wait given up because the entry could not be sampled
type AbandonedError struct {
	Path string
	Err  error
}

// Error implements the error interface for AbandonedError.
func (e *AbandonedError) Error() string {
	return fmt.Sprintf("stability wait abandoned for %s: %v", e.Path, e.Err)
}

// Unwrap returns the failed stat error.
func (e *AbandonedError) Unwrap() error {
	return e.Err
}

// IsAbandoned checks if the error is or wraps an AbandonedError.
func IsAbandoned(err error) bool {
	if err == nil {
		return false
	}
	var ae *AbandonedError
	return errors.As(err, &ae)
}

// Detector samples entries until they stop growing
type Detector struct {
	Interval time.Duration // Sampling interval (DefaultInterval when zero)
	MaxWait  time.Duration // Give up after this long, 0 = wait indefinitely
}

// New creates a Detector with the given sampling interval and maximum wait
func New(interval, maxWait time.Duration) *Detector {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Detector{Interval: interval, MaxWait: maxWait}
}

// AwaitStable blocks until path is stable, vanishes, ctx ends or MaxWait
// elapses. The first sample is taken immediately, so an unchanged non-zero
// entry is reported stable after a single interval.
func (d *Detector) AwaitStable(ctx context.Context, path string) (Outcome, error) {
	interval := d.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var deadline <-chan time.Time
	if d.MaxWait > 0 {
		timer := time.NewTimer(d.MaxWait)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev, err := Sample(path)
	if err != nil {
		return Vanished, &AbandonedError{Path: path, Err: err}
	}

	for {
		select {
		case <-ctx.Done():
			return Cancelled, ctx.Err()
		case <-deadline:
			return TimedOut, fmt.Errorf("%s did not settle within %v", path, d.MaxWait)
		case <-ticker.C:
		}

		size, err := Sample(path)
		if err != nil {
			return Vanished, &AbandonedError{Path: path, Err: err}
		}
		if size == prev && size != 0 {
			return Stable, nil
		}
		prev = size
	}
}

// Sample returns the size used for stability comparison. Regular files report
// their size. Directories report 1 + entry count + total bytes of the tree,
// which is non-zero even when empty and changes whenever the contents do.
func Sample(path string) (int64, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64 = 1
	err = filepath.WalkDir(path, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == path {
			return nil
		}
		total++
		if entry.Type().IsRegular() {
			fi, err := entry.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
