package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// FileKind is the kind of a filesystem entry, or a rule's kind filter
type FileKind string

const (
	KindFile      FileKind = "file"
	KindDirectory FileKind = "directory"
	KindAll       FileKind = "all" // Only valid as a rule filter
)

// ParseFileKind converts a string into a FileKind
func ParseFileKind(s string) (FileKind, error) {
	switch FileKind(s) {
	case KindFile, KindDirectory, KindAll:
		return FileKind(s), nil
	default:
		return "", fmt.Errorf("invalid kind %q, must be one of: file, directory, all", s)
	}
}

// Accepts reports whether a rule filter of this kind accepts an entry of the given kind
func (k FileKind) Accepts(entry FileKind) bool {
	return k == KindAll || k == entry
}

// RenamePattern describes how a matched entry is renamed
type RenamePattern struct {
	UseRegExp        bool   `json:"useRegExp" yaml:"use_regexp"`
	Pattern          string `json:"pattern" yaml:"pattern"`
	ReplaceValue     string `json:"replaceValue" yaml:"replace_value"`
	ExcludeExtension bool   `json:"excludeExtension" yaml:"exclude_extension"`
}

// WatchCondition is a rule routing matching entries to a destination
type WatchCondition struct {
	ID            int64          `json:"id" yaml:"id"`
	DirectoryID   int64          `json:"directoryId" yaml:"directory_id"`
	Name          string         `json:"name" yaml:"name"`
	Enabled       bool           `json:"enabled" yaml:"enabled"`
	Priority      int            `json:"priority" yaml:"priority"` // Lower value wins
	Type          FileKind       `json:"type" yaml:"type"`
	UseRegExp     bool           `json:"useRegExp" yaml:"use_regexp"`
	Pattern       string         `json:"pattern" yaml:"pattern"`
	Destination   string         `json:"destination" yaml:"destination"` // "$" = owning directory
	Delay         time.Duration  `json:"delay" yaml:"delay"`             // Wait applied after stability
	RenamePattern *RenamePattern `json:"renamePattern,omitempty" yaml:"rename_pattern,omitempty"`
}

// Validate checks required fields and that every regular expression compiles
func (c *WatchCondition) Validate() error {
	if c.DirectoryID == 0 {
		return errors.New("condition directory id is required")
	}
	if _, err := ParseFileKind(string(c.Type)); err != nil {
		return err
	}
	if c.Destination == "" {
		return errors.New("condition destination is required")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay must be >= 0, got %v", c.Delay)
	}
	if c.UseRegExp {
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
		}
	}
	if c.RenamePattern != nil && c.RenamePattern.UseRegExp {
		if _, err := regexp.Compile(c.RenamePattern.Pattern); err != nil {
			return fmt.Errorf("invalid rename pattern %q: %w", c.RenamePattern.Pattern, err)
		}
	}
	return nil
}

// IsSelfDestination returns true if the condition moves entries within their own directory
func (c *WatchCondition) IsSelfDestination() bool {
	return c.Destination == DestinationSelf
}
