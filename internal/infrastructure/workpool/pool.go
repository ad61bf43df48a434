// Package workpool provides a resizable worker pool draining a strict
// priority queue.
//
// The pool is for short chores that never block on network I/O: relay ticks,
// single-shot reconnect attempts, health checks. HIGH work always runs before
// NORMAL, NORMAL before LOW; within a priority, submission order wins. A
// steady flow of HIGH work can starve LOW work.
package workpool

import (
	"container/heap"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

type Priority int

const (
	High Priority = iota
	Normal
	Low
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	ErrTaskPanic   = errors.New("task panicked")
)

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers   int    `json:"worker_threads"`
	Queued    int    `json:"worker_queue_size"`
	Active    int    `json:"worker_active_tasks"`
	Completed uint64 `json:"worker_completed_tasks"`
	Panicked  uint64 `json:"worker_panicked_tasks"`
}

type Pool struct {
	log *zap.Logger

	ctl sync.Mutex // serializes Resize and Shutdown

	mu        sync.Mutex
	work      *sync.Cond // queue non-empty, stopping or retiring
	idle      *sync.Cond // queue empty and nothing in flight
	exited    *sync.Cond // a retiring worker left
	queue     jobHeap
	seq       uint64
	size      int
	active    int
	completed uint64
	panicked  uint64
	retire    int  // workers still to exit after a shrink
	stopping  bool // workers exit once the queue is empty
	stopped   bool // submissions rejected

	wg sync.WaitGroup
}

// New starts a pool with size workers. size <= 0 means one per CPU.
func New(log *zap.Logger, size int) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = runtime.NumCPU()
	}
	p := &Pool{log: log.Named("workpool")}
	p.work = sync.NewCond(&p.mu)
	p.idle = sync.NewCond(&p.mu)
	p.exited = sync.NewCond(&p.mu)
	heap.Init(&p.queue)

	p.mu.Lock()
	p.spawnLocked(size)
	p.mu.Unlock()

	p.log.Info("started", zap.Int("workers", size))
	return p
}

// Submit queues fn at the given priority.
// It returns ErrPoolStopped once Shutdown has begun.
func (p *Pool) Submit(prio Priority, fn func()) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrPoolStopped
	}

	p.seq++
	h := newHandle()
	heap.Push(&p.queue, &job{fn: fn, prio: prio, seq: p.seq, handle: h})
	p.work.Signal()
	return h, nil
}

// Drain blocks until the queue is empty and no task is running.
// Must not be called from inside a pool task.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.drainLocked()
	p.mu.Unlock()
}

// Resize changes the number of workers. Growing spawns workers immediately.
// Shrinking retires the surplus workers at their next loop boundary: each
// finishes the task it is running, queued work stays queued for the
// remaining workers, and Resize returns once the surplus has exited.
// Submissions keep being accepted throughout.
// Must not be called from inside a pool task.
func (p *Pool) Resize(n int) {
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.log.Warn("resize on stopped pool ignored", zap.Int("workers", n))
		return
	}
	old := p.size
	switch {
	case n == old:
		p.mu.Unlock()
		return
	case n > old:
		p.spawnLocked(n - old)
		p.mu.Unlock()
		p.log.Info("resized", zap.Int("from", old), zap.Int("to", n))
		return
	}

	p.retire += old - n
	p.work.Broadcast()
	for p.retire > 0 {
		p.exited.Wait()
	}
	p.mu.Unlock()

	p.log.Info("resized", zap.Int("from", old), zap.Int("to", n))
}

// Shutdown stops the pool and joins every worker. Idempotent.
//
// With waitForPending the queued work runs first; otherwise it is discarded
// and each discarded handle finishes with ErrPoolStopped. Work already
// running always completes.
func (p *Pool) Shutdown(waitForPending bool) {
	p.ctl.Lock()
	defer p.ctl.Unlock()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true

	discarded := 0
	if waitForPending {
		p.drainLocked()
	} else {
		for len(p.queue) > 0 {
			j := heap.Pop(&p.queue).(*job)
			j.handle.finish(ErrPoolStopped)
			discarded++
		}
	}
	p.stopping = true
	p.work.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	p.log.Info("stopped", zap.Bool("drained", waitForPending), zap.Int("discarded", discarded))
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

func (p *Pool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Workers:   p.size,
		Queued:    len(p.queue),
		Active:    p.active,
		Completed: p.completed,
		Panicked:  p.panicked,
	}
}

// --- internals ---------------------------------------------------------------

func (p *Pool) spawnLocked(n int) {
	for i := 0; i < n; i++ {
		p.size++
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) drainLocked() {
	for len(p.queue) > 0 || p.active > 0 {
		p.idle.Wait()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	p.mu.Lock()
	for {
		for len(p.queue) == 0 && !p.stopping && p.retire == 0 {
			p.work.Wait()
		}
		if p.retire > 0 {
			p.retire--
			p.size--
			if len(p.queue) > 0 {
				// the wake-up may have been meant for queued work
				p.work.Signal()
			}
			p.exited.Broadcast()
			p.mu.Unlock()
			return
		}
		if len(p.queue) == 0 {
			// stopping
			p.mu.Unlock()
			return
		}

		j := heap.Pop(&p.queue).(*job)
		p.active++
		p.mu.Unlock()

		panicked := p.run(j)

		p.mu.Lock()
		p.active--
		p.completed++
		if panicked {
			p.panicked++
		}
		if len(p.queue) == 0 && p.active == 0 {
			p.idle.Broadcast()
		}
	}
}

// run executes one job; a panic is contained here and reported through the handle.
func (p *Pool) run(j *job) (panicked bool) {
	var err error
	defer func() { j.handle.finish(err) }()
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
			p.log.Error("task panicked",
				zap.Stringer("priority", j.prio),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	j.handle.started.Store(true)
	j.fn()
	return false
}
