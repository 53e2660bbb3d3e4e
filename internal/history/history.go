// Package history keeps the bounded list of recent frames shown on the
// dashboard, optionally mirrored to disk.
package history

import (
	"sync"

	"github.com/shaunagostinho/agdash/internal/frame"
)

// DefaultCapacity is how many frames the dashboard keeps.
const DefaultCapacity = 100

// Buffer is a fixed-capacity FIFO of frame records. When full, appending
// drops the oldest entry in the same critical section.
type Buffer struct {
	mu    sync.RWMutex
	items []frame.Record
	head  int // index of the oldest entry
	n     int
}

// New returns a Buffer holding at most capacity records. A non-positive
// capacity selects DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]frame.Record, capacity)}
}

// Append adds rec as the newest entry and reports whether an old entry was
// evicted to make room.
func (b *Buffer) Append(rec frame.Record) (evicted bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := len(b.items)
	if b.n < c {
		b.items[(b.head+b.n)%c] = rec
		b.n++
		return false
	}
	b.items[b.head] = rec
	b.head = (b.head + 1) % c
	return true
}

// Snapshot returns the entries oldest first.
func (b *Buffer) Snapshot() []frame.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]frame.Record, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Last returns the newest entry.
func (b *Buffer) Last() (frame.Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.n == 0 {
		return frame.Record{}, false
	}
	return b.items[(b.head+b.n-1)%len(b.items)], true
}

// Len returns the number of entries.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Cap returns the capacity.
func (b *Buffer) Cap() int { return len(b.items) }

// Reset removes all entries.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i] = frame.Record{}
	}
	b.head, b.n = 0, 0
}
