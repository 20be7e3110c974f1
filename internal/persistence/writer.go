package persistence

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultWriterCapacity = 256
	writeMaxAttempts      = 3
	drainTimeout          = 2 * time.Second
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue runs database writes one at a time off the caller's goroutine.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd
	done   chan struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
		done:   make(chan struct{}),
	}
}

// Enqueue never blocks; a full buffer drops the write with an error log.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	select {
	case w.queue <- writeCmd{name: name, fn: fn}:
	default:
		w.logger.Error("db write dropped, queue full", "cmd", name)
	}
}

// Start processes writes until ctx is done, then runs whatever is still
// buffered once more with a short deadline.
func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

// Wait blocks until the queue goroutine has exited.
func (w *WriterQueue) Wait() {
	<-w.done
}

func (w *WriterQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case cmd := <-w.queue:
			if err := cmd.fn(ctx); err != nil {
				w.logger.Error("db write failed during drain", "cmd", cmd.name, "error", err)
			}
		default:
			return
		}
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writeMaxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == writeMaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
		}
	}
}
