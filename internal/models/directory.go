package models

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// DestinationSelf is the destination sentinel meaning "the owning directory's own path".
const DestinationSelf = "$"

// WatchDirectory is a configured filesystem location to observe
type WatchDirectory struct {
	ID             int64         `json:"id" yaml:"id"`
	Name           string        `json:"name" yaml:"name"`
	Path           string        `json:"path" yaml:"path"`
	Enabled        bool          `json:"enabled" yaml:"enabled"`
	Recursive      bool          `json:"recursive" yaml:"recursive"`
	UsePolling     bool          `json:"usePolling" yaml:"use_polling"`
	Interval       time.Duration `json:"interval" yaml:"interval"` // Polling interval, 0 = engine default
	IgnoreDotFiles bool          `json:"ignoreDotFiles" yaml:"ignore_dot_files"`
}

// Validate checks if the directory has all required fields
func (d *WatchDirectory) Validate() error {
	if d.Path == "" {
		return errors.New("directory path is required")
	}
	if !filepath.IsAbs(d.Path) {
		return fmt.Errorf("directory path must be absolute, got %q", d.Path)
	}
	if d.Interval < 0 {
		return fmt.Errorf("polling interval must be >= 0, got %v", d.Interval)
	}
	return nil
}

// SameWatchSettings reports whether two records would produce an identical
// filesystem subscription. Name changes do not count.
func (d WatchDirectory) SameWatchSettings(other WatchDirectory) bool {
	return d.ID == other.ID &&
		d.Path == other.Path &&
		d.Enabled == other.Enabled &&
		d.Recursive == other.Recursive &&
		d.UsePolling == other.UsePolling &&
		d.Interval == other.Interval &&
		d.IgnoreDotFiles == other.IgnoreDotFiles
}

// Label returns a short human-readable identifier used in log lines
func (d WatchDirectory) Label() string {
	if d.Name != "" {
		return fmt.Sprintf("#%d %s (%s)", d.ID, d.Name, d.Path)
	}
	return fmt.Sprintf("#%d (%s)", d.ID, d.Path)
}
