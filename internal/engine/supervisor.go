// Package engine keeps the set of running directory watchers in line with
// the stored configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Alanimdeo/conveyor/internal/logger"
	"github.com/Alanimdeo/conveyor/internal/models"
	"github.com/Alanimdeo/conveyor/internal/store"
	"github.com/Alanimdeo/conveyor/internal/watcher"
)

// Store is the part of the configuration store the supervisor reads
type Store interface {
	GetWatchDirectories(ctx context.Context) ([]models.WatchDirectory, error)
	GetWatchDirectory(ctx context.Context, id int64) (*models.WatchDirectory, error)
	GetWatchConditions(ctx context.Context, directoryID int64, enabledOnly bool) ([]models.WatchCondition, error)
}

// Supervisor owns one watcher per eligible directory
type Supervisor struct {
	store Store
	opts  watcher.Options
	log   logger.Logger
	locks keyedMutex

	mu       sync.RWMutex
	watchers map[int64]*watcher.Watcher
	closed   bool
}

// NewSupervisor creates a supervisor. opts is the template passed to every
// watcher; its Store is replaced with st.
func NewSupervisor(st Store, opts watcher.Options) *Supervisor {
	opts.Store = st
	return &Supervisor{
		store:    st,
		opts:     opts,
		log:      logger.OrNop(opts.Logger),
		watchers: make(map[int64]*watcher.Watcher),
	}
}

// Start launches a watcher for every eligible directory and returns the running set.
// Directories that are disabled or have no enabled conditions are skipped at
// info level, directories whose event source cannot be opened at warn level.
// Store errors do not stop the remaining directories from starting; they are
// joined and returned together with the running set.
func (s *Supervisor) Start(ctx context.Context) (map[int64]*watcher.Watcher, error) {
	dirs, err := s.store.GetWatchDirectories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watch directories: %w", err)
	}

	var errs []error
	for _, dir := range dirs {
		unlock := s.locks.Lock(dir.ID)
		if s.get(dir.ID) == nil {
			if err := s.tryStart(ctx, dir); err != nil {
				s.log.Warnf("Skipping folder #%d: %v", dir.ID, err)
				if !watcher.IsSourceError(err) {
					errs = append(errs, fmt.Errorf("start directory #%d: %w", dir.ID, err))
				}
			}
		}
		unlock()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	running := make(map[int64]*watcher.Watcher, len(s.watchers))
	for id, w := range s.watchers {
		running[id] = w
	}
	return running, errors.Join(errs...)
}

// Reconcile brings the watcher for one directory in line with the store:
// a removed directory stops its watcher, changed watch settings restart it,
// losing every enabled condition stops it, and an idle eligible directory
// starts one. Calls for the same ID are serialized.
func (s *Supervisor) Reconcile(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	dir, err := s.store.GetWatchDirectory(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.stop(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reconcile directory #%d: %w", id, err)
	}

	if current := s.get(id); current != nil {
		if !current.Directory().SameWatchSettings(*dir) {
			s.log.Infof("Configuration of folder %s changed, restarting watcher", dir.Label())
			s.stop(id)
			return s.tryStart(ctx, *dir)
		}

		conds, err := s.store.GetWatchConditions(ctx, id, true)
		if err != nil {
			return fmt.Errorf("reconcile directory #%d: %w", id, err)
		}
		if len(conds) == 0 {
			s.log.Infof("Folder %s has no active conditions left", dir.Label())
			s.stop(id)
		}
		return nil
	}

	return s.tryStart(ctx, *dir)
}

// ReconcileAll reconciles every stored directory and every running watcher
// whose directory no longer exists. Per-directory errors are joined.
func (s *Supervisor) ReconcileAll(ctx context.Context) error {
	dirs, err := s.store.GetWatchDirectories(ctx)
	if err != nil {
		return fmt.Errorf("load watch directories: %w", err)
	}

	seen := make(map[int64]bool, len(dirs))
	var errs []error
	for _, dir := range dirs {
		seen[dir.ID] = true
		if err := s.Reconcile(ctx, dir.ID); err != nil {
			errs = append(errs, err)
		}
	}
	for _, id := range s.Watched() {
		if seen[id] {
			continue
		}
		if err := s.Reconcile(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DirectoryCreated starts a watcher for a new directory when it is eligible
func (s *Supervisor) DirectoryCreated(ctx context.Context, id int64) error {
	return s.Reconcile(ctx, id)
}

// DirectoryUpdated restarts, starts or stops the directory's watcher as needed
func (s *Supervisor) DirectoryUpdated(ctx context.Context, id int64) error {
	return s.Reconcile(ctx, id)
}

// DirectoryDeleted stops the directory's watcher
func (s *Supervisor) DirectoryDeleted(ctx context.Context, id int64) error {
	return s.Reconcile(ctx, id)
}

// ConditionChanged re-evaluates the owning directory after a condition was
// added, edited or removed
func (s *Supervisor) ConditionChanged(ctx context.Context, directoryID int64) error {
	return s.Reconcile(ctx, directoryID)
}

// IsWatched reports whether a watcher is running for the directory
func (s *Supervisor) IsWatched(id int64) bool {
	return s.get(id) != nil
}

// Watched returns the IDs of directories with a running watcher, ascending
func (s *Supervisor) Watched() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.watchers))
	for id := range s.watchers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// StopAll stops every watcher. Later reconciles start nothing.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	s.closed = true
	watchers := make([]*watcher.Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		watchers = append(watchers, w)
	}
	s.watchers = make(map[int64]*watcher.Watcher)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w *watcher.Watcher) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

func (s *Supervisor) get(id int64) *watcher.Watcher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.watchers[id]
}

// tryStart starts a watcher for dir. Precondition failures are logged and
// swallowed. Callers hold the directory's key lock.
func (s *Supervisor) tryStart(ctx context.Context, dir models.WatchDirectory) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil
	}

	w := watcher.New(dir, s.opts)
	if err := w.Start(ctx); err != nil {
		if watcher.IsPreconditionError(err) {
			s.log.Infof("Skipping folder #%d: %v", dir.ID, err)
			return nil
		}
		return err
	}

	s.mu.Lock()
	if s.closed {
		// StopAll ran while this watcher was starting
		s.mu.Unlock()
		w.Stop()
		return nil
	}
	s.watchers[dir.ID] = w
	s.mu.Unlock()
	return nil
}

// stop stops and forgets the directory's watcher. Callers hold the key lock.
func (s *Supervisor) stop(id int64) {
	s.mu.Lock()
	w := s.watchers[id]
	delete(s.watchers, id)
	s.mu.Unlock()

	if w != nil {
		w.Stop()
	}
}
