package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// fsnotifySource publishes native filesystem notifications
type fsnotifySource struct {
	watcher *fsnotify.Watcher
	opts    SourceOptions
	events  chan Event
	errors  chan error
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// newFSNotifySource watches opts.Root, and every subdirectory when recursive
func newFSNotifySource(opts SourceOptions) (*fsnotifySource, error) {
	opts.Root = filepath.Clean(opts.Root)

	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", opts.Root)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	s := &fsnotifySource{
		watcher: watcher,
		opts:    opts,
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}

	if opts.Recursive {
		err = s.addRecursive(opts.Root, false)
	} else {
		err = watcher.Add(opts.Root)
	}
	if err != nil {
		watcher.Close()
		return nil, err
	}

	go s.processEvents()

	return s, nil
}

// addRecursive adds dir and all its subdirectories to the watcher.
// With announce set, entries found below dir are published as created,
// covering files written into a new directory before its watch existed.
func (s *fsnotifySource) addRecursive(dir string, announce bool) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// Entries can disappear between notification and walk
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}

		if s.opts.ignored(path) {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			if err := s.watcher.Add(path); err != nil {
				// Ignore permission errors for directories we can't access
				if os.IsPermission(err) {
					return filepath.SkipDir
				}
				return err
			}
		}

		if announce && path != dir {
			s.sendEvent(Event{Path: path, Kind: kindOf(entry.IsDir()), Op: OpCreated, Timestamp: time.Now()})
		}
		return nil
	})
}

func (s *fsnotifySource) processEvents() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.sendError(err)
		}
	}
}

func (s *fsnotifySource) handleEvent(event fsnotify.Event) {
	var op Op
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreated
	case event.Has(fsnotify.Write):
		op = OpWritten
	default:
		// Removals, renames away and chmod are not interesting
		return
	}

	path := filepath.Clean(event.Name)
	if !s.opts.withinDepth(path) || s.opts.ignored(path) {
		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		return
	}

	if info.IsDir() && op != OpCreated {
		return
	}

	s.sendEvent(Event{Path: path, Kind: kindOf(info.IsDir()), Op: op, Timestamp: time.Now()})

	if info.IsDir() && s.opts.Recursive {
		if err := s.addRecursive(path, true); err != nil {
			s.sendError(fmt.Errorf("watch new directory %s: %w", path, err))
		}
	}
}

// sendEvent blocks until the consumer takes the event or the source closes
func (s *fsnotifySource) sendEvent(event Event) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

func (s *fsnotifySource) sendError(err error) {
	if errors.Is(err, fsnotify.ErrEventOverflow) {
		err = fmt.Errorf("%s: %w (some entries may have been missed)", s.opts.Root, err)
	}
	select {
	case s.errors <- err:
	default:
		// Error channel full, drop the error
	}
}

func (s *fsnotifySource) Events() <-chan Event {
	return s.events
}

func (s *fsnotifySource) Errors() <-chan error {
	return s.errors
}

// Close stops the source and releases the underlying watcher
func (s *fsnotifySource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	return s.watcher.Close()
}
