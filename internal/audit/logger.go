package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Writer persists entries. *Repository satisfies it.
type Writer interface {
	Insert(ctx context.Context, e Entry) error
}

// Logger is the asynchronous audit recorder. Log never blocks the caller:
// the queue is bounded and overflow is dropped with a warning.
type Logger struct {
	writer  Writer
	logger  *slog.Logger
	queue   chan Entry
	dropped atomic.Int64
	written atomic.Int64

	mu      sync.Mutex
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// NewLogger constructs a Logger with the given queue capacity.
func NewLogger(writer Writer, capacity int, logger *slog.Logger) *Logger {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Logger{
		writer: writer,
		logger: logger,
		queue:  make(chan Entry, capacity),
	}
}

// Start launches the background writer.
func (l *Logger) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.stopped {
		return
	}
	l.started = true
	l.wg.Add(1)
	go l.drain()
}

// Stop closes the queue, drains whatever is still buffered, and returns.
func (l *Logger) Stop() {
	l.mu.Lock()
	if !l.started || l.stopped {
		l.stopped = true
		l.mu.Unlock()
		return
	}
	l.stopped = true
	close(l.queue)
	l.mu.Unlock()
	l.wg.Wait()
}

// Log enqueues an entry and returns immediately. A full queue drops the
// entry and counts the drop.
func (l *Logger) Log(e Entry) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		l.dropped.Add(1)
		return
	}
	select {
	case l.queue <- l.stamp(e):
		l.mu.Unlock()
	default:
		l.mu.Unlock()
		l.dropped.Add(1)
		if l.logger != nil {
			l.logger.Warn("audit queue full, entry dropped",
				slog.String("user", e.UserID),
				slog.String("tool", e.Tool),
				slog.String("status", string(e.Status)))
		}
	}
}

func (l *Logger) stamp(e Entry) Entry {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for e := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := l.writer.Insert(ctx, e)
		cancel()
		if err != nil {
			// Write-path persistence failures are dropped with a warning,
			// preserving the non-blocking guarantee.
			l.dropped.Add(1)
			if l.logger != nil {
				l.logger.Warn("audit write failed", slog.Any("error", err))
			}
			continue
		}
		l.written.Add(1)
	}
}

// Dropped reports how many entries were lost to overflow or write
// failure.
func (l *Logger) Dropped() int64 {
	return l.dropped.Load()
}

// Written reports how many entries were persisted.
func (l *Logger) Written() int64 {
	return l.written.Load()
}

// QueueDepth reports how many entries are currently buffered.
func (l *Logger) QueueDepth() int {
	return len(l.queue)
}
