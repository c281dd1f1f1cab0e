package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DefaultPollInterval is used when neither the directory nor the caller sets one
const DefaultPollInterval = 100 * time.Millisecond

type entryState struct {
	isDir   bool
	size    int64
	modTime time.Time
}

// pollSource detects changes by periodically walking the tree and diffing
// against the previous walk. It serves network and container mounts where
// native notifications are not delivered.
type pollSource struct {
	opts     SourceOptions
	snapshot map[string]entryState
	events   chan Event
	errors   chan error
	done     chan struct{}
	stopped  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newPollSource(opts SourceOptions) (*pollSource, error) {
	opts.Root = filepath.Clean(opts.Root)
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	s := &pollSource{
		opts:    opts,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	// Entries present at start are the baseline, not events
	snapshot, err := s.scan()
	if err != nil {
		return nil, err
	}
	s.snapshot = snapshot

	go s.run()

	return s, nil
}

func (s *pollSource) run() {
	defer close(s.stopped)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		current, err := s.scan()
		if err != nil {
			s.sendError(err)
			continue
		}

		for _, event := range diffSnapshots(s.snapshot, current) {
			select {
			case s.events <- event:
			case <-s.done:
				return
			}
		}
		s.snapshot = current
	}
}

// scan walks the tree honouring depth and dot-file settings
func (s *pollSource) scan() (map[string]entryState, error) {
	info, err := os.Stat(s.opts.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", s.opts.Root)
	}

	entries := make(map[string]entryState)
	err = filepath.WalkDir(s.opts.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Entries can disappear mid-walk
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if path == s.opts.Root {
			return nil
		}

		if s.opts.ignored(path) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		fi, err := entry.Info()
		if err != nil {
			return nil
		}
		entries[path] = entryState{isDir: entry.IsDir(), size: fi.Size(), modTime: fi.ModTime()}

		if entry.IsDir() && !s.opts.Recursive {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// diffSnapshots reports new entries as created and changed files as written
func diffSnapshots(prev, current map[string]entryState) []Event {
	now := time.Now()
	var events []Event
	for path, cur := range current {
		old, existed := prev[path]
		switch {
		case !existed:
			events = append(events, Event{Path: path, Kind: kindOf(cur.isDir), Op: OpCreated, Timestamp: now})
		case old.isDir != cur.isDir:
			// Replaced by an entry of another kind
			events = append(events, Event{Path: path, Kind: kindOf(cur.isDir), Op: OpCreated, Timestamp: now})
		case !cur.isDir && (old.size != cur.size || !old.modTime.Equal(cur.modTime)):
			events = append(events, Event{Path: path, Kind: kindOf(false), Op: OpWritten, Timestamp: now})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

func (s *pollSource) sendError(err error) {
	select {
	case s.errors <- err:
	default:
	}
}

func (s *pollSource) Events() <-chan Event {
	return s.events
}

func (s *pollSource) Errors() <-chan error {
	return s.errors
}

// Close stops polling and waits for the poll goroutine to exit
func (s *pollSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	<-s.stopped
	return nil
}
