package watcher

import (
	"errors"
	"fmt"
)

// DirectoryDisabledError is returned by Start for a disabled directory
type DirectoryDisabledError struct {
	DirectoryID int64
	Path        string
}

// Error implements the error interface for DirectoryDisabledError.
func (e *DirectoryDisabledError) Error() string {
	return fmt.Sprintf("directory #%d (%s) is not enabled", e.DirectoryID, e.Path)
}

// NoActiveConditionsError is returned by Start when a directory has no enabled conditions
type NoActiveConditionsError struct {
	DirectoryID int64
	Path        string
}

// Error implements the error interface for NoActiveConditionsError.
func (e *NoActiveConditionsError) Error() string {
	return fmt.Sprintf("directory #%d (%s) has no active conditions", e.DirectoryID, e.Path)
}

// IsPreconditionError reports whether err means the watcher should simply not
// run: the directory is disabled or has no enabled conditions.
func IsPreconditionError(err error) bool {
	if err == nil {
		return false
	}
	var disabled *DirectoryDisabledError
	var inactive *NoActiveConditionsError
	return errors.As(err, &disabled) || errors.As(err, &inactive)
}

// SourceError is returned by Start when the filesystem event source cannot be
// opened, e.g. the directory is missing or not readable.
type SourceError struct {
	Path string
	Err  error
}

// Error implements the error interface for SourceError.
func (e *SourceError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying source error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsSourceError checks if the error is or wraps a SourceError.
func IsSourceError(err error) bool {
	if err == nil {
		return false
	}
	var se *SourceError
	return errors.As(err, &se)
}

// MoveError reports a failed relocation. The source entry is left in place.
type MoveError struct {
	Source string
	Target string
	Err    error
}

// Error implements the error interface for MoveError.
func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s to %s: %v", e.Source, e.Target, e.Err)
}

// Unwrap returns the underlying filesystem error.
func (e *MoveError) Unwrap() error {
	return e.Err
}

// IsMoveError checks if the error is or wraps a MoveError.
func IsMoveError(err error) bool {
	if err == nil {
		return false
	}
	var me *MoveError
	return errors.As(err, &me)
}

// errStopping is returned when a session reaches the move after Stop began
var errStopping = errors.New("watcher is stopping")
