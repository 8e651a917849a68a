package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureWriter struct {
	mu      sync.Mutex
	entries []Entry
	delay   time.Duration
	err     error
}

func (w *captureWriter) Insert(ctx context.Context, e Entry) error {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, e)
	return nil
}

func (w *captureWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

func TestLoggerWritesInOrder(t *testing.T) {
	writer := &captureWriter{}
	l := NewLogger(writer, 16, nil)
	l.Start()

	l.Log(Denied("guest", "execute_code", "permission denied"))
	l.Log(Success("dev", "execute_code", 120*time.Millisecond, nil))
	l.Stop()

	require.Equal(t, 2, writer.count())
	assert.Equal(t, StatusDenied, writer.entries[0].Status)
	assert.Equal(t, StatusSuccess, writer.entries[1].Status)
	assert.False(t, writer.entries[0].At.IsZero())
	assert.Equal(t, int64(120), writer.entries[1].DurationMS)
}

func TestLogNeverBlocksWhenQueueFull(t *testing.T) {
	writer := &captureWriter{delay: time.Hour} // writer effectively stuck
	l := NewLogger(writer, 4, nil)
	l.Start()
	defer func() {
		writer.delay = 0
		go func() {
			for range l.queue {
			}
		}()
	}()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			l.Log(Denied("u", "t", "r"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked the caller")
	}
	assert.Greater(t, l.Dropped(), int64(0))
}

func TestStopDrainsQueue(t *testing.T) {
	writer := &captureWriter{}
	l := NewLogger(writer, 64, nil)
	l.Start()

	for i := 0; i < 50; i++ {
		l.Log(Success("dev", "read_file", time.Millisecond, nil))
	}
	l.Stop()
	assert.Equal(t, 50, writer.count())
	assert.Equal(t, int64(50), l.Written())
}

func TestLogAfterStopIsCountedNotPanicking(t *testing.T) {
	writer := &captureWriter{}
	l := NewLogger(writer, 4, nil)
	l.Start()
	l.Stop()

	assert.NotPanics(t, func() {
		l.Log(Denied("u", "t", "r"))
	})
	assert.Equal(t, int64(1), l.Dropped())
}

func TestWriteFailureIsDroppedWithWarning(t *testing.T) {
	writer := &captureWriter{err: errors.New("store down")}
	l := NewLogger(writer, 8, nil)
	l.Start()

	l.Log(Denied("u", "t", "r"))
	l.Stop()
	assert.Equal(t, int64(1), l.Dropped())
	assert.Equal(t, int64(0), l.Written())
}

func TestCanonicalShapes(t *testing.T) {
	e := Denied("guest", "execute_code", "permission denied")
	assert.Equal(t, StatusDenied, e.Status)
	assert.Equal(t, "permission denied", e.Error)

	e = ApprovalRequested("dev", "run_shell", "req-1")
	assert.Equal(t, StatusPending, e.Status)
	assert.Equal(t, "approval:req-1", e.Action)

	e = ApprovalTimeout("dev", "run_shell", "req-1")
	assert.Equal(t, StatusTimeout, e.Status)

	e = ExecutionTimeout("dev", "execute_code", 30*time.Second)
	assert.Equal(t, StatusTimeout, e.Status)
	assert.Equal(t, int64(30000), e.DurationMS)
}
