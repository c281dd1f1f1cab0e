// Package watcher observes one watch directory and dispatches each new entry
// that matches a condition to its destination.
//
// Every entry gets its own handling session: match against the current
// conditions, wait until stable, compute the final name, then move or rename.
// A path is handled by at most one session at a time (the dedup claim).
// Sessions for different paths run concurrently.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Alanimdeo/conveyor/internal/auditlog"
	"github.com/Alanimdeo/conveyor/internal/logger"
	"github.com/Alanimdeo/conveyor/internal/models"
	"github.com/Alanimdeo/conveyor/internal/rules"
	"github.com/Alanimdeo/conveyor/internal/stability"
)

// State is the lifecycle state of a Watcher
type State int

const (
	Stopped State = iota
	Starting
	Running
	Failed
)

// String returns a human-readable representation of the state
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Store is the read side of the configuration store used while handling entries
type Store interface {
	GetWatchConditions(ctx context.Context, directoryID int64, enabledOnly bool) ([]models.WatchCondition, error)
}

// Stabilizer waits for an entry to stop changing
type Stabilizer interface {
	AwaitStable(ctx context.Context, path string) (stability.Outcome, error)
}

// Options carries the dependencies shared by every watcher
type Options struct {
	Store      Store
	Audit      auditlog.Recorder
	Logger     logger.Logger
	Stabilizer Stabilizer

	// PollInterval is used for polling directories without their own interval
	PollInterval time.Duration

	// NewSource overrides event source construction (tests)
	NewSource func(dir models.WatchDirectory, opts SourceOptions) (Source, error)
}

// Watcher runs handling sessions for one directory
type Watcher struct {
	dir  models.WatchDirectory
	opts Options
	log  logger.Logger

	mu       sync.Mutex
	state    State
	source   Source
	cancel   context.CancelFunc
	loopDone chan struct{}
	sessions sync.WaitGroup

	claimsMu sync.Mutex
	claims   map[string]struct{}

	// moveMu is held for reading by every move and for writing by Stop
	moveMu   sync.RWMutex
	stopping bool
}

// New creates a stopped Watcher for a snapshot of dir
func New(dir models.WatchDirectory, opts Options) *Watcher {
	if opts.Stabilizer == nil {
		opts.Stabilizer = stability.New(stability.DefaultInterval, 0)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.NewSource == nil {
		opts.NewSource = openSource
	}
	return &Watcher{
		dir:    dir,
		opts:   opts,
		log:    logger.OrNop(opts.Logger),
		state:  Stopped,
		claims: make(map[string]struct{}),
	}
}

// openSource picks the polling or native source for a directory
func openSource(dir models.WatchDirectory, opts SourceOptions) (Source, error) {
	if dir.UsePolling {
		return newPollSource(opts)
	}
	return newFSNotifySource(opts)
}

// Directory returns the configuration snapshot the watcher was created with
func (w *Watcher) Directory() models.WatchDirectory {
	return w.dir
}

// State returns the current lifecycle state
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start checks preconditions and begins observing the directory.
// A disabled directory or one without enabled conditions leaves the watcher
// Failed with a precondition error. Starting a running watcher is a no-op.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == Running {
		return nil
	}
	w.state = Starting

	if !w.dir.Enabled {
		w.state = Failed
		return &DirectoryDisabledError{DirectoryID: w.dir.ID, Path: w.dir.Path}
	}

	conds, err := w.opts.Store.GetWatchConditions(ctx, w.dir.ID, true)
	if err != nil {
		w.state = Failed
		return fmt.Errorf("load conditions of directory #%d: %w", w.dir.ID, err)
	}
	if len(conds) == 0 {
		w.state = Failed
		return &NoActiveConditionsError{DirectoryID: w.dir.ID, Path: w.dir.Path}
	}

	interval := w.dir.Interval
	if interval <= 0 {
		interval = w.opts.PollInterval
	}
	source, err := w.opts.NewSource(w.dir, SourceOptions{
		Root:           w.dir.Path,
		Recursive:      w.dir.Recursive,
		IgnoreDotFiles: w.dir.IgnoreDotFiles,
		PollInterval:   interval,
	})
	if err != nil {
		w.state = Failed
		return &SourceError{Path: w.dir.Path, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w.source = source
	w.cancel = cancel
	w.loopDone = make(chan struct{})
	w.moveMu.Lock()
	w.stopping = false
	w.moveMu.Unlock()
	w.state = Running

	go w.loop(runCtx, source, w.loopDone)

	mode := "native"
	if w.dir.UsePolling {
		mode = fmt.Sprintf("polling every %v", interval)
	}
	w.log.Infof("Watching folder %s for %d conditions (%s)", w.dir.Label(), len(conds), mode)
	return nil
}

// Stop closes the event source, cancels in-flight stability waits and delays,
// and waits for running sessions to finish. No move starts once Stop begins.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != Running {
		w.state = Stopped
		return
	}

	// Moves already past the check finish first
	w.moveMu.Lock()
	w.stopping = true
	w.moveMu.Unlock()

	w.cancel()
	if err := w.source.Close(); err != nil {
		w.log.Warnf("Closing watcher for %s: %v", w.dir.Label(), err)
	}
	<-w.loopDone
	w.sessions.Wait()

	w.state = Stopped
	w.log.Infof("Stopped watching folder %s", w.dir.Label())
}

// loop consumes the source until the watcher context ends
func (w *Watcher) loop(ctx context.Context, source Source, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-source.Events():
			w.dispatch(ctx, event)
		case err := <-source.Errors():
			w.log.Warnf("Watcher error on %s: %v", w.dir.Label(), err)
		}
	}
}

// dispatch starts a session unless the path is already claimed
func (w *Watcher) dispatch(ctx context.Context, event Event) {
	// Stop may cancel while an event is already queued
	if ctx.Err() != nil {
		return
	}
	if !w.claim(event.Path) {
		w.log.Tracef("Ignoring %s event for %s: already being handled", event.Op, event.Path)
		return
	}
	w.sessions.Add(1)
	go func() {
		defer w.sessions.Done()
		defer w.release(event.Path)
		w.handle(ctx, event)
	}()
}

func (w *Watcher) claim(path string) bool {
	w.claimsMu.Lock()
	defer w.claimsMu.Unlock()
	if _, held := w.claims[path]; held {
		return false
	}
	w.claims[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.claimsMu.Lock()
	defer w.claimsMu.Unlock()
	delete(w.claims, path)
}

// Claimed reports whether a session currently holds path
func (w *Watcher) Claimed(path string) bool {
	w.claimsMu.Lock()
	defer w.claimsMu.Unlock()
	_, held := w.claims[path]
	return held
}

// handle runs one handling session. Every session that reaches stability
// records exactly one audit entry unless Stop cancels it first.
func (w *Watcher) handle(ctx context.Context, event Event) {
	session := uuid.NewString()[:8]
	name := filepath.Base(event.Path)
	tag := fmt.Sprintf("[#%d %s]", w.dir.ID, session)

	conds, err := w.opts.Store.GetWatchConditions(ctx, w.dir.ID, true)
	if err != nil {
		w.log.Errorf("%s Loading conditions for %s: %v", tag, name, err)
		return
	}

	match, err := rules.Match(name, event.Kind, conds)
	if err != nil {
		w.log.Warnf("%s Skipped misconfigured conditions: %v", tag, err)
	}
	if match == nil {
		w.log.Tracef("%s No condition matches %s %s", tag, event.Kind, name)
		return
	}
	w.log.Debugf("%s %s matched condition #%d, waiting for it to settle", tag, name, match.ID)

	outcome, err := w.opts.Stabilizer.AwaitStable(ctx, event.Path)
	if outcome != stability.Stable {
		w.log.Debugf("%s Dropping %s: %s (%v)", tag, name, outcome, err)
		return
	}

	newName, err := rules.Transform(name, match.RenamePattern)
	if err != nil {
		w.record(auditlog.RenameFailed(w.dir.ID, match.ID, name, err))
		return
	}

	dest := w.resolveDestination(match.Destination)
	// Compared with the entry's own parent, so "$" lifts nested entries of a
	// recursive watch into the directory root
	inPlace := filepath.Clean(filepath.Dir(event.Path)) == dest
	if inPlace && newName == name {
		w.record(auditlog.Skipped(w.dir.ID, match.ID, name))
		return
	}

	if match.Delay > 0 {
		timer := time.NewTimer(match.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			w.log.Debugf("%s Dropping %s: stopped during delay", tag, name)
			return
		case <-timer.C:
		}
	}

	target := filepath.Join(dest, newName)
	err = w.move(event.Path, dest, target)
	switch {
	case errors.Is(err, errStopping):
		w.log.Debugf("%s Dropping %s: watcher stopping", tag, name)
	case err != nil:
		var me *MoveError
		if errors.As(err, &me) {
			err = me.Err
		}
		w.record(auditlog.MoveFailed(w.dir.ID, match.ID, name, dest, err))
	case inPlace:
		w.record(auditlog.Renamed(w.dir.ID, match.ID, name, newName))
	default:
		w.record(auditlog.Moved(w.dir.ID, match.ID, name, dest, newName))
	}
}

// resolveDestination maps "$" to the directory path and anchors relative
// destinations at it
func (w *Watcher) resolveDestination(dest string) string {
	if dest == models.DestinationSelf {
		return filepath.Clean(w.dir.Path)
	}
	if !filepath.IsAbs(dest) {
		return filepath.Join(w.dir.Path, dest)
	}
	return filepath.Clean(dest)
}

// move relocates the entry unless Stop has begun
func (w *Watcher) move(src, destDir, target string) error {
	w.moveMu.RLock()
	defer w.moveMu.RUnlock()
	if w.stopping {
		return errStopping
	}
	return relocate(src, destDir, target)
}

func (w *Watcher) record(entry models.LogEntry) {
	if entry.Level == models.LogError {
		w.log.Errorf("[#%d] %s", w.dir.ID, entry.Message)
	} else {
		w.log.Infof("[#%d] %s", w.dir.ID, entry.Message)
	}
	if w.opts.Audit != nil {
		w.opts.Audit.Record(entry)
	}
}
