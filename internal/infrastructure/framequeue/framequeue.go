// Package framequeue implements the bounded, drop-on-overflow buffer that sits
// between a stream's I/O goroutine and its consumers.
//
// Producers never block: when the queue is full the overflow policy evicts
// queued items to make room. Consumers block for at most the timeout they
// pass to Pop and are woken early by Push and Stop.
package framequeue

import (
	"sync"
	"sync/atomic"
	"time"
)

// PushResult reports what a single Push did.
type PushResult struct {
	Accepted bool // false only when the queue is stopped
	Dropped  int  // items evicted to make room for this one
}

// Stats are running totals since construction.
type Stats struct {
	Pushed  uint64 `json:"pushed"`
	Popped  uint64 `json:"popped"`
	Dropped uint64 `json:"dropped"`
}

type Queue[T any] struct {
	mu         sync.Mutex
	buf        []T // ring, len(buf) == capacity
	head       int // index of the oldest item
	size       int
	lowLatency bool
	stopped    bool

	avail chan struct{} // closed and replaced on every push
	stop  chan struct{} // closed by Stop, replaced by Resume

	pushed  atomic.Uint64
	popped  atomic.Uint64
	dropped atomic.Uint64
}

// New returns a queue holding at most capacity items (minimum 1).
//
// In low-latency mode a push into a full queue discards everything queued
// and keeps only the new item. Otherwise only the oldest item is evicted.
func New[T any](capacity int, lowLatency bool) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{
		buf:        make([]T, capacity),
		lowLatency: lowLatency,
		avail:      make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// Push enqueues v, evicting per the overflow policy when full.
func (q *Queue[T]) Push(v T) PushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return PushResult{}
	}

	var res PushResult
	if q.size == len(q.buf) {
		if q.lowLatency {
			res.Dropped = q.clearLocked()
		} else {
			q.takeLocked()
			res.Dropped = 1
		}
		q.dropped.Add(uint64(res.Dropped))
	}

	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	q.pushed.Add(1)
	res.Accepted = true

	close(q.avail)
	q.avail = make(chan struct{})
	return res
}

// Pop removes and returns the oldest item, waiting up to timeout for one to
// arrive. It returns false on timeout or once the queue is stopped.
// A timeout <= 0 polls without waiting.
func (q *Queue[T]) Pop(timeout time.Duration) (T, bool) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		q.mu.Lock()
		if q.stopped {
			q.mu.Unlock()
			var zero T
			return zero, false
		}
		if q.size > 0 {
			v := q.takeLocked()
			q.mu.Unlock()
			q.popped.Add(1)
			return v, true
		}
		avail, stop := q.avail, q.stop
		q.mu.Unlock()

		if timeout <= 0 {
			var zero T
			return zero, false
		}
		if timer == nil {
			timer = time.NewTimer(timeout)
		}

		select {
		case <-avail:
		case <-stop:
		case <-timer.C:
			var zero T
			return zero, false
		}
	}
}

// Len is the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Cap is the fixed capacity.
func (q *Queue[T]) Cap() int { return len(q.buf) }

// LowLatency reports the overflow policy.
func (q *Queue[T]) LowLatency() bool { return q.lowLatency }

// Clear discards every queued item and returns how many were dropped.
// Cleared items are not counted as overflow drops.
func (q *Queue[T]) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.clearLocked()
}

// Stop rejects further pushes and wakes every blocked Pop. Idempotent.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	close(q.stop)
}

// Resume re-arms a stopped queue.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		return
	}
	q.stopped = false
	q.stop = make(chan struct{})
}

// Stopped reports whether Stop has been called without a later Resume.
func (q *Queue[T]) Stopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

func (q *Queue[T]) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Popped:  q.popped.Load(),
		Dropped: q.dropped.Load(),
	}
}

// --- ring internals ----------------------------------------------------------

func (q *Queue[T]) takeLocked() T {
	var zero T
	v := q.buf[q.head]
	q.buf[q.head] = zero // release the reference
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return v
}

func (q *Queue[T]) clearLocked() int {
	n := q.size
	var zero T
	for i := 0; i < n; i++ {
		q.buf[(q.head+i)%len(q.buf)] = zero
	}
	q.head, q.size = 0, 0
	return n
}
