package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alanimdeo/conveyor/internal/models"
	"github.com/Alanimdeo/conveyor/internal/stability"
)

const (
	testWait = 3 * time.Second
	testTick = 10 * time.Millisecond
)

// memStore serves conditions from memory
type memStore struct {
	mu    sync.Mutex
	conds []models.WatchCondition
	err   error
	reads int
}

func (s *memStore) GetWatchConditions(_ context.Context, directoryID int64, enabledOnly bool) ([]models.WatchCondition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	var out []models.WatchCondition
	for _, c := range s.conds {
		if c.DirectoryID == directoryID && (!enabledOnly || c.Enabled) {
			out = append(out, c)
		}
	}
	return out, nil
}

// memAudit collects recorded entries
type memAudit struct {
	mu      sync.Mutex
	entries []models.LogEntry
}

func (s *memStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (a *memAudit) Record(e models.LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *memAudit) all() []models.LogEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.LogEntry(nil), a.entries...)
}

func (a *memAudit) waitFor(t *testing.T, n int) []models.LogEntry {
	t.Helper()
	require.Eventually(t, func() bool { return len(a.all()) >= n }, testWait, testTick)
	return a.all()
}

// fakeSource lets tests inject events directly
type fakeSource struct {
	events chan Event
	errors chan error
	once   sync.Once
	closed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{events: make(chan Event), errors: make(chan error, 1), closed: make(chan struct{})}
}

func (f *fakeSource) Events() <-chan Event { return f.events }
func (f *fakeSource) Errors() <-chan error { return f.errors }
func (f *fakeSource) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSource) emit(t *testing.T, path string, kind models.FileKind) {
	t.Helper()
	select {
	case f.events <- Event{Path: path, Kind: kind, Op: OpCreated, Timestamp: time.Now()}:
	case <-time.After(testWait):
		t.Fatalf("event for %s not consumed", path)
	}
}

// instantStable reports every entry stable immediately
type instantStable struct{}

func (instantStable) AwaitStable(ctx context.Context, path string) (stability.Outcome, error) {
	if _, err := os.Lstat(path); err != nil {
		return stability.Vanished, &stability.AbandonedError{Path: path, Err: err}
	}
	return stability.Stable, nil
}

// gatedStable blocks until the gate is closed or ctx ends
type gatedStable struct {
	gate  chan struct{}
	calls chan string
}

func (g *gatedStable) AwaitStable(ctx context.Context, path string) (stability.Outcome, error) {
	g.calls <- path
	select {
	case <-g.gate:
		return stability.Stable, nil
	case <-ctx.Done():
		return stability.Cancelled, ctx.Err()
	}
}

type harness struct {
	root   string
	dir    models.WatchDirectory
	store  *memStore
	audit  *memAudit
	source *fakeSource
	w      *Watcher
}

func newHarness(t *testing.T, stab Stabilizer, conds ...models.WatchCondition) *harness {
	t.Helper()
	h := &harness{
		root:   t.TempDir(),
		store:  &memStore{},
		audit:  &memAudit{},
		source: newFakeSource(),
	}
	h.dir = models.WatchDirectory{ID: 1, Path: h.root, Enabled: true}
	for i := range conds {
		conds[i].DirectoryID = h.dir.ID
		if conds[i].Type == "" {
			conds[i].Type = models.KindAll
		}
	}
	h.store.conds = conds
	if stab == nil {
		stab = instantStable{}
	}
	h.w = New(h.dir, Options{
		Store:      h.store,
		Audit:      h.audit,
		Stabilizer: stab,
		NewSource: func(models.WatchDirectory, SourceOptions) (Source, error) {
			return h.source, nil
		},
	})
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.w.Start(context.Background()))
	t.Cleanup(h.w.Stop)
}

func (h *harness) file(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(h.root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestStart_Preconditions(t *testing.T) {
	t.Run("disabled directory", func(t *testing.T) {
		h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: "/x"})
		h.w.dir.Enabled = false

		err := h.w.Start(context.Background())
		var disabled *DirectoryDisabledError
		require.ErrorAs(t, err, &disabled)
		assert.True(t, IsPreconditionError(err))
		assert.Equal(t, Failed, h.w.State())
	})

	t.Run("no enabled conditions", func(t *testing.T) {
		h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: false, Destination: "/x"})

		err := h.w.Start(context.Background())
		var inactive *NoActiveConditionsError
		require.ErrorAs(t, err, &inactive)
		assert.True(t, IsPreconditionError(err))
		assert.Equal(t, Failed, h.w.State())
	})

	t.Run("store error is not a precondition", func(t *testing.T) {
		h := newHarness(t, nil)
		h.store.err = errors.New("database is locked")

		err := h.w.Start(context.Background())
		require.Error(t, err)
		assert.False(t, IsPreconditionError(err))
		assert.Equal(t, Failed, h.w.State())
	})

	t.Run("source failure", func(t *testing.T) {
		h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: "/x"})
		h.w.opts.NewSource = func(models.WatchDirectory, SourceOptions) (Source, error) {
			return nil, os.ErrNotExist
		}

		err := h.w.Start(context.Background())
		require.Error(t, err)
		assert.True(t, IsSourceError(err))
		assert.ErrorIs(t, err, os.ErrNotExist)
		assert.False(t, IsPreconditionError(err))
		assert.Equal(t, Failed, h.w.State())
	})

	t.Run("running after start, stopped after stop", func(t *testing.T) {
		h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: "/x"})
		require.NoError(t, h.w.Start(context.Background()))
		assert.Equal(t, Running, h.w.State())
		require.NoError(t, h.w.Start(context.Background()), "second start is a no-op")

		h.w.Stop()
		assert.Equal(t, Stopped, h.w.State())
		h.w.Stop()
		assert.Equal(t, Stopped, h.w.State())
	})
}

func TestHandle_LowestPriorityWins(t *testing.T) {
	destA := filepath.Join(t.TempDir(), "A")
	destB := filepath.Join(t.TempDir(), "B")
	h := newHarness(t, nil,
		models.WatchCondition{ID: 1, Enabled: true, Priority: 1, UseRegExp: true, Pattern: `\.tmp$`, Destination: destA},
		models.WatchCondition{ID: 2, Enabled: true, Priority: 2, Pattern: "", Destination: destB},
	)
	h.start(t)

	tmp := h.file(t, "x.tmp", "scratch")
	txt := h.file(t, "y.txt", "notes")
	h.source.emit(t, tmp, models.KindFile)
	h.source.emit(t, txt, models.KindFile)

	entries := h.audit.waitFor(t, 2)
	messages := []string{entries[0].Message, entries[1].Message}
	assert.ElementsMatch(t, []string{"Moving x.tmp to " + destA, "Moving y.txt to " + destB}, messages)

	assert.FileExists(t, filepath.Join(destA, "x.tmp"))
	assert.FileExists(t, filepath.Join(destB, "y.txt"))
	assert.NoFileExists(t, tmp)
	assert.NoFileExists(t, txt)
}

func TestHandle_SelfDestinationRename(t *testing.T) {
	h := newHarness(t, nil, models.WatchCondition{
		ID: 7, Enabled: true, Pattern: "draft", Destination: models.DestinationSelf,
		RenamePattern: &models.RenamePattern{Pattern: "draft", ReplaceValue: "final"},
	})
	h.start(t)

	src := h.file(t, "draft.txt", "v1")
	h.source.emit(t, src, models.KindFile)

	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, "Renaming draft.txt to final.txt", entries[0].Message)
	assert.Equal(t, models.LogInfo, entries[0].Level)
	assert.Equal(t, int64(7), entries[0].ConditionID)
	assert.Equal(t, int64(1), entries[0].DirectoryID)
	assert.FileExists(t, filepath.Join(h.root, "final.txt"))
	assert.NoFileExists(t, src)
}

func TestHandle_SkipWhenAlreadyInDestination(t *testing.T) {
	tests := []struct {
		name        string
		destination func(root string) string
	}{
		{name: "dollar destination", destination: func(string) string { return models.DestinationSelf }},
		{name: "directory path as destination", destination: func(root string) string { return root }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.store.conds = []models.WatchCondition{{ID: 3, DirectoryID: 1, Enabled: true, Type: models.KindAll, Destination: tt.destination(h.root)}}
			h.start(t)

			src := h.file(t, "a.txt", "same")
			h.source.emit(t, src, models.KindFile)

			entries := h.audit.waitFor(t, 1)
			assert.Equal(t, "Skipping a.txt: already in destination", entries[0].Message)
			assert.FileExists(t, src)

			// Handling is idempotent: a second event skips again
			require.Eventually(t, func() bool { return !h.w.Claimed(src) }, testWait, testTick)
			h.source.emit(t, src, models.KindFile)
			entries = h.audit.waitFor(t, 2)
			assert.Equal(t, entries[0].Message, entries[1].Message)
		})
	}
}

func TestHandle_SelfDestinationLiftsNestedEntries(t *testing.T) {
	h := newHarness(t, nil, models.WatchCondition{ID: 3, Enabled: true, Destination: models.DestinationSelf})
	h.dir.Recursive = true
	h.w.dir.Recursive = true
	h.start(t)

	src := h.file(t, filepath.Join("sub", "a.txt"), "nested")
	h.source.emit(t, src, models.KindFile)

	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, "Moving a.txt to "+h.root, entries[0].Message)
	assert.FileExists(t, filepath.Join(h.root, "a.txt"))
	assert.NoFileExists(t, src)
}

func TestDispatch_IgnoresEventsAfterCancel(t *testing.T) {
	h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: t.TempDir()})
	h.start(t)
	before := h.store.readCount()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := h.file(t, "queued.txt", "x")
	h.w.dispatch(ctx, Event{Path: src, Kind: models.KindFile, Op: OpCreated, Timestamp: time.Now()})

	assert.False(t, h.w.Claimed(src))
	h.w.sessions.Wait()
	assert.Equal(t, before, h.store.readCount(), "no session reads conditions")
	assert.Empty(t, h.audit.all())
	assert.FileExists(t, src)
}

func TestHandle_MoveAndRename(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "archive")
	h := newHarness(t, nil, models.WatchCondition{
		ID: 1, Enabled: true, Type: models.KindFile, UseRegExp: true, Pattern: `^IMG_\d+\.jpg$`, Destination: dest,
		RenamePattern: &models.RenamePattern{UseRegExp: true, Pattern: `^IMG_(\d+)$`, ReplaceValue: "photo-$1", ExcludeExtension: true},
	})
	h.start(t)

	src := h.file(t, "IMG_0042.jpg", "jpeg")
	h.source.emit(t, src, models.KindFile)

	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, "Moving IMG_0042.jpg to "+dest+" as photo-0042.jpg", entries[0].Message)
	assert.FileExists(t, filepath.Join(dest, "photo-0042.jpg"))
}

func TestHandle_KindFilter(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "dirs")
	h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Type: models.KindDirectory, Destination: dest})
	h.start(t)

	file := h.file(t, "report.txt", "x")
	sub := filepath.Join(h.root, "project")
	require.NoError(t, os.Mkdir(sub, 0755))

	h.source.emit(t, file, models.KindFile)
	h.source.emit(t, sub, models.KindDirectory)

	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, "Moving project to "+dest, entries[0].Message)
	assert.DirExists(t, filepath.Join(dest, "project"))
	assert.FileExists(t, file)

	// Give the file session time to finish; it must not log
	require.Eventually(t, func() bool { return !h.w.Claimed(file) }, testWait, testTick)
	assert.Len(t, h.audit.all(), 1)
}

func TestHandle_NoMatchDoesNotLog(t *testing.T) {
	h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Pattern: ".pdf", Destination: "/nowhere"})
	h.start(t)

	src := h.file(t, "notes.txt", "x")
	h.source.emit(t, src, models.KindFile)

	require.Eventually(t, func() bool { return !h.w.Claimed(src) }, testWait, testTick)
	assert.Empty(t, h.audit.all())
	assert.FileExists(t, src)
}

func TestHandle_RulesAreReadPerEvent(t *testing.T) {
	destA := filepath.Join(t.TempDir(), "A")
	destB := filepath.Join(t.TempDir(), "B")
	h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: destA})
	h.start(t)

	first := h.file(t, "one.txt", "1")
	h.source.emit(t, first, models.KindFile)
	h.audit.waitFor(t, 1)

	h.store.mu.Lock()
	h.store.conds[0].Destination = destB
	h.store.mu.Unlock()

	second := h.file(t, "two.txt", "2")
	h.source.emit(t, second, models.KindFile)
	entries := h.audit.waitFor(t, 2)
	assert.Equal(t, "Moving two.txt to "+destB, entries[1].Message)
}

func TestHandle_RenameFailureLogsError(t *testing.T) {
	h := newHarness(t, nil, models.WatchCondition{
		ID: 4, Enabled: true, Destination: t.TempDir(),
		RenamePattern: &models.RenamePattern{UseRegExp: true, Pattern: "([", ReplaceValue: "x"},
	})
	h.start(t)

	src := h.file(t, "a.txt", "x")
	h.source.emit(t, src, models.KindFile)

	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, models.LogError, entries[0].Level)
	assert.Contains(t, entries[0].Message, "Failed to rename a.txt: ")
	assert.FileExists(t, src)
}

func TestHandle_MoveFailureLogsError(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	dest := filepath.Join(blocker, "sub")

	h := newHarness(t, nil, models.WatchCondition{ID: 5, Enabled: true, Destination: dest})
	h.start(t)

	src := h.file(t, "a.txt", "x")
	h.source.emit(t, src, models.KindFile)

	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, models.LogError, entries[0].Level)
	assert.Contains(t, entries[0].Message, "Failed to move a.txt to "+dest+": ")
	assert.FileExists(t, src, "source is left in place")
}

func TestHandle_InvalidMatchRegexSkipsOnlyThatRule(t *testing.T) {
	dest := t.TempDir()
	h := newHarness(t, nil,
		models.WatchCondition{ID: 1, Enabled: true, Priority: 0, UseRegExp: true, Pattern: "(", Destination: "/bad"},
		models.WatchCondition{ID: 2, Enabled: true, Priority: 5, Pattern: "a", Destination: dest},
	)
	h.start(t)

	src := h.file(t, "a.txt", "x")
	h.source.emit(t, src, models.KindFile)

	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, int64(2), entries[0].ConditionID)
	assert.FileExists(t, filepath.Join(dest, "a.txt"))
}

func TestHandle_VanishedEntryDoesNotLog(t *testing.T) {
	h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: t.TempDir()})
	h.start(t)

	gone := filepath.Join(h.root, "gone.txt")
	h.source.emit(t, gone, models.KindFile)

	require.Eventually(t, func() bool { return !h.w.Claimed(gone) }, testWait, testTick)
	assert.Empty(t, h.audit.all())
}

func TestHandle_DedupClaim(t *testing.T) {
	stab := &gatedStable{gate: make(chan struct{}), calls: make(chan string, 10)}
	dest := t.TempDir()
	h := newHarness(t, stab, models.WatchCondition{ID: 1, Enabled: true, Destination: dest})
	h.start(t)

	src := h.file(t, "big.iso", "partial")
	h.source.emit(t, src, models.KindFile)
	<-stab.calls
	assert.True(t, h.w.Claimed(src))

	// Further events for the claimed path are ignored
	h.source.emit(t, src, models.KindFile)
	h.source.emit(t, src, models.KindFile)

	close(stab.gate)
	entries := h.audit.waitFor(t, 1)
	assert.Equal(t, "Moving big.iso to "+dest, entries[0].Message)
	require.Eventually(t, func() bool { return !h.w.Claimed(src) }, testWait, testTick)
	assert.Len(t, h.audit.all(), 1)
	assert.Len(t, stab.calls, 0)
}

func TestHandle_ConcurrentSessions(t *testing.T) {
	stab := &gatedStable{gate: make(chan struct{}), calls: make(chan string, 10)}
	dest := t.TempDir()
	h := newHarness(t, stab, models.WatchCondition{ID: 1, Enabled: true, Destination: dest})
	h.start(t)

	a := h.file(t, "a.bin", "a")
	b := h.file(t, "b.bin", "b")
	h.source.emit(t, a, models.KindFile)
	h.source.emit(t, b, models.KindFile)

	// Both sessions are waiting at the same time
	got := []string{<-stab.calls, <-stab.calls}
	assert.ElementsMatch(t, []string{a, b}, got)

	close(stab.gate)
	h.audit.waitFor(t, 2)
}

func TestStop_CancelsInFlightWait(t *testing.T) {
	stab := &gatedStable{gate: make(chan struct{}), calls: make(chan string, 10)}
	dest := t.TempDir()
	h := newHarness(t, stab, models.WatchCondition{ID: 1, Enabled: true, Destination: dest})
	require.NoError(t, h.w.Start(context.Background()))

	src := h.file(t, "pending.txt", "x")
	h.source.emit(t, src, models.KindFile)
	<-stab.calls

	done := make(chan struct{})
	go func() {
		h.w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(testWait):
		t.Fatal("Stop did not return")
	}
	assert.Equal(t, Stopped, h.w.State())
	assert.Empty(t, h.audit.all())
	assert.FileExists(t, src)
	assert.False(t, h.w.Claimed(src))
}

func TestStop_CancelsDelay(t *testing.T) {
	dest := t.TempDir()
	h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: dest, Delay: time.Hour})
	require.NoError(t, h.w.Start(context.Background()))

	src := h.file(t, "later.txt", "x")
	h.source.emit(t, src, models.KindFile)
	require.Eventually(t, func() bool { return h.w.Claimed(src) }, testWait, testTick)

	h.w.Stop()
	assert.Empty(t, h.audit.all())
	assert.FileExists(t, src)
}

func TestHandle_DelayIsApplied(t *testing.T) {
	dest := t.TempDir()
	delay := 150 * time.Millisecond
	h := newHarness(t, nil, models.WatchCondition{ID: 1, Enabled: true, Destination: dest, Delay: delay})
	h.start(t)

	src := h.file(t, "slow.txt", "x")
	begin := time.Now()
	h.source.emit(t, src, models.KindFile)

	h.audit.waitFor(t, 1)
	assert.GreaterOrEqual(t, time.Since(begin), delay)
}

func TestResolveDestination(t *testing.T) {
	w := New(models.WatchDirectory{ID: 1, Path: "/watch/inbox/"}, Options{Store: &memStore{}})

	assert.Equal(t, "/watch/inbox", w.resolveDestination(models.DestinationSelf))
	assert.Equal(t, "/archive", w.resolveDestination("/archive/"))
	assert.Equal(t, "/watch/inbox/sorted", w.resolveDestination("sorted"))
}

func TestWatcher_NativeSourceEndToEnd(t *testing.T) {
	root := t.TempDir()
	dest := t.TempDir()
	store := &memStore{conds: []models.WatchCondition{
		{ID: 1, DirectoryID: 1, Enabled: true, Type: models.KindFile, Pattern: ".log", Destination: dest},
	}}
	audit := &memAudit{}
	w := New(models.WatchDirectory{ID: 1, Path: root, Enabled: true}, Options{
		Store:      store,
		Audit:      audit,
		Stabilizer: stability.New(20*time.Millisecond, 0),
	})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "app.log"), []byte("line\n"), 0644))

	entries := audit.waitFor(t, 1)
	assert.Equal(t, "Moving app.log to "+dest, entries[0].Message)
	assert.FileExists(t, filepath.Join(dest, "app.log"))
}

func TestWatcher_PollingSourceEndToEnd(t *testing.T) {
	root := t.TempDir()
	dest := t.TempDir()
	store := &memStore{conds: []models.WatchCondition{
		{ID: 1, DirectoryID: 1, Enabled: true, Type: models.KindAll, Destination: dest},
	}}
	audit := &memAudit{}
	w := New(models.WatchDirectory{ID: 1, Path: root, Enabled: true, UsePolling: true, Interval: 20 * time.Millisecond}, Options{
		Store:      store,
		Audit:      audit,
		Stabilizer: stability.New(20*time.Millisecond, 0),
	})
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(root, "scan.pdf"), []byte("%PDF"), 0644))

	entries := audit.waitFor(t, 1)
	assert.Equal(t, "Moving scan.pdf to "+dest, entries[0].Message)
}
