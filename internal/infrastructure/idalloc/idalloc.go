// Package idalloc hands out small integer ids from a wrap-around space,
// skipping ids still in use.
package idalloc

import (
	"errors"
	"sync"
)

var ErrExhausted = errors.New("id space exhausted")

type Allocator struct {
	mu    sync.Mutex
	next  int64
	max   int64
	inUse map[int64]struct{}
}

// New returns an allocator over [1, max]. Ids start at 1.
func New(max int64) *Allocator {
	if max < 1 {
		max = 1
	}
	return &Allocator{next: 1, max: max, inUse: make(map[int64]struct{})}
}

// Alloc returns the next free id after the last one handed out.
func (a *Allocator) Alloc() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for tries := int64(0); tries < a.max; tries++ {
		id := a.next
		a.next++
		if a.next > a.max {
			a.next = 1
		}
		if _, used := a.inUse[id]; used {
			continue
		}
		a.inUse[id] = struct{}{}
		return id, nil
	}
	return 0, ErrExhausted
}

// Reserve marks id as taken, e.g. when restoring persisted tasks.
// It reports false if id is out of range or already taken.
func (a *Allocator) Reserve(id int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id < 1 || id > a.max {
		return false
	}
	if _, used := a.inUse[id]; used {
		return false
	}
	a.inUse[id] = struct{}{}
	if id >= a.next {
		a.next = id + 1
		if a.next > a.max {
			a.next = 1
		}
	}
	return true
}

// Release frees id. Releasing a free id is a no-op.
func (a *Allocator) Release(id int64) {
	a.mu.Lock()
	delete(a.inUse, id)
	a.mu.Unlock()
}
