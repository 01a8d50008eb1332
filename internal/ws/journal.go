package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shared-grid/backend/internal/model"
)

var (
	// ErrJournalQueueFull is returned when the journal writer is too far behind; the edit is not journaled.
	ErrJournalQueueFull = errors.New("journal queue full")

	// ErrJournalClosed is returned when recording after Close.
	ErrJournalClosed = errors.New("journal closed")
)

const (
	journalQueueSize = 1024

	// Time allowed for one journal write.
	journalTimeout = 2 * time.Second
)

type journalEntry struct {
	tableID string
	connID  string
	updates []model.CellUpdate
	replace *string
}

// AsyncRecorder hands edits to a single writer goroutine so a slow journal
// never stalls a session's read loop. Entries are written in enqueue order.
type AsyncRecorder struct {
	next   EditRecorder
	queue  chan journalEntry
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewAsyncRecorder starts a writer that forwards to next.
func NewAsyncRecorder(next EditRecorder, size int, logger *zap.Logger) *AsyncRecorder {
	if size <= 0 {
		size = journalQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &AsyncRecorder{
		next:   next,
		queue:  make(chan journalEntry, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.run()
	return r
}

// RecordCellUpdates queues the applied updates. It never blocks.
func (r *AsyncRecorder) RecordCellUpdates(_ context.Context, tableID, connID string, updates []model.CellUpdate) error {
	return r.enqueue(journalEntry{tableID: tableID, connID: connID, updates: updates})
}

// RecordReplace queues a whole-grid replace. It never blocks.
func (r *AsyncRecorder) RecordReplace(_ context.Context, tableID, connID, payload string) error {
	return r.enqueue(journalEntry{tableID: tableID, connID: connID, replace: &payload})
}

func (r *AsyncRecorder) enqueue(entry journalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrJournalClosed
	}
	select {
	case r.queue <- entry:
		return nil
	default:
		return ErrJournalQueueFull
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)

	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		var err error
		if entry.replace != nil {
			err = r.next.RecordReplace(ctx, entry.tableID, entry.connID, *entry.replace)
		} else {
			err = r.next.RecordCellUpdates(ctx, entry.tableID, entry.connID, entry.updates)
		}
		cancel()

		if err != nil {
			r.logger.Error("failed to journal edit",
				zap.String("table", entry.tableID),
				zap.String("conn", entry.connID),
				zap.Error(err),
			)
		}
	}
}

// Close stops accepting entries and waits for queued ones to be written.
func (r *AsyncRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}
