// Package auditlog records the per-entry audit trail of the engine.
//
// Every handling session that reaches stability produces exactly one
// entry. Writes are fire-and-forget: a session never waits on the store.
package auditlog

import (
	"context"
	"sync"
	"time"

	"github.com/Alanimdeo/conveyor/internal/logger"
	"github.com/Alanimdeo/conveyor/internal/models"
)

// DefaultQueueSize is used when NewSink is given a non-positive size
const DefaultQueueSize = 256

// Writer persists audit entries
type Writer interface {
	CreateLog(ctx context.Context, entry *models.LogEntry) (int64, error)
}

// Recorder accepts audit entries without blocking
type Recorder interface {
	Record(entry models.LogEntry)
}

// Sink buffers audit entries and writes them from a single worker goroutine
type Sink struct {
	writer Writer
	log    logger.Logger
	queue  chan models.LogEntry
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewSink starts the worker goroutine. Call Close to drain and stop it.
func NewSink(writer Writer, log logger.Logger, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Sink{
		writer: writer,
		log:    logger.OrNop(log),
		queue:  make(chan models.LogEntry, queueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues an entry and returns immediately.
// A full queue or a closed sink drops the entry and reports it to the diagnostic log.
func (s *Sink) Record(entry models.LogEntry) {
	if entry.Date.IsZero() {
		entry.Date = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.log.Warnf("audit log closed, dropping entry: %s", entry.Message)
		return
	}

	select {
	case s.queue <- entry:
	default:
		s.log.Errorf("audit log queue full, dropping entry: %s", entry.Message)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for entry := range s.queue {
		e := entry
		if _, err := s.writer.CreateLog(context.Background(), &e); err != nil {
			s.log.Errorf("failed to write audit log entry %q: %v", e.Message, err)
		}
	}
}

// Close stops accepting entries and waits for queued ones to be written
func (s *Sink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
}
