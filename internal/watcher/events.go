package watcher

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// Op represents the kind of change a source observed
type Op int

const (
	// OpCreated indicates a new entry appeared in the watched tree
	OpCreated Op = iota
	// OpWritten indicates an existing file changed
	OpWritten
)

// String returns a human-readable representation of the operation
func (op Op) String() string {
	switch op {
	case OpCreated:
		return "created"
	case OpWritten:
		return "written"
	default:
		return "unknown"
	}
}

// Event is a single observation published by a Source
type Event struct {
	Path      string          // Absolute path of the entry
	Kind      models.FileKind // KindFile or KindDirectory
	Op        Op
	Timestamp time.Time
}

// Source delivers filesystem events for one watched directory.
// Pre-existing entries are not reported.
type Source interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// SourceOptions configures an event source
type SourceOptions struct {
	Root           string
	Recursive      bool // false = direct children only
	IgnoreDotFiles bool
	PollInterval   time.Duration // Used by the polling source only
}

// ignored reports whether any component of path below root starts with a dot
func (o SourceOptions) ignored(path string) bool {
	if !o.IgnoreDotFiles {
		return false
	}
	rel, err := filepath.Rel(o.Root, path)
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") && part != ".." {
			return true
		}
	}
	return false
}

// withinDepth reports whether path is a direct child of root, or anywhere below it when recursive
func (o SourceOptions) withinDepth(path string) bool {
	if o.Recursive {
		return true
	}
	return filepath.Dir(path) == filepath.Clean(o.Root)
}

func kindOf(isDir bool) models.FileKind {
	if isDir {
		return models.KindDirectory
	}
	return models.KindFile
}
