// Package eventlog keeps a short per-stream history of lifecycle events
// (state changes, errors, reconnect attempts) for the status API.
package eventlog

import (
	"sync"
	"time"
)

// Capacity is the number of events retained per buffer.
const Capacity = 500

type Event struct {
	At      time.Time `json:"at"`
	Level   string    `json:"level"`
	Message string    `json:"msg"`
}

// Buffer is a fixed-size circular buffer of events.
// Append is O(1); Read copies out newest → oldest.
type Buffer struct {
	mu      sync.RWMutex
	entries [Capacity]Event
	head    int // next write position
	size    int
	now     func() time.Time
}

func NewBuffer() *Buffer { return &Buffer{now: time.Now} }

func (b *Buffer) Info(msg string)  { b.Append("info", msg) }
func (b *Buffer) Warn(msg string)  { b.Append("warn", msg) }
func (b *Buffer) Error(msg string) { b.Append("error", msg) }

// Append records an event, overwriting the oldest when full.
func (b *Buffer) Append(level, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = Event{At: b.now(), Level: level, Message: msg}
	b.head = (b.head + 1) % Capacity
	if b.size < Capacity {
		b.size++
	}
}

// Read returns up to n events, newest first. n <= 0 or n > Capacity
// means everything retained. The result is a new slice.
func (b *Buffer) Read(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.size == 0 {
		return nil
	}
	if n <= 0 || n > b.size {
		n = b.size
	}

	out := make([]Event, n)
	newest := (b.head - 1 + Capacity) % Capacity
	for i := 0; i < n; i++ {
		out[i] = b.entries[(newest-i+Capacity)%Capacity]
	}
	return out
}

// Len is the number of retained events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}
