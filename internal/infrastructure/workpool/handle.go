package workpool

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle tracks one submitted task.
type Handle struct {
	done    chan struct{}
	once    sync.Once
	err     error
	started atomic.Bool
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

func (h *Handle) finish(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed once the task has run (or was discarded).
func (h *Handle) Done() <-chan struct{} { return h.done }

// Finished reports whether Done is closed.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Started reports whether a worker picked the task up.
func (h *Handle) Started() bool { return h.started.Load() }

// Err is valid after Done: nil on success, ErrTaskPanic when the task
// panicked, ErrPoolStopped when it was discarded by Shutdown(false).
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
