package load

import "sync"

// RowBuffer accumulates rows for a single destination table and reports when
// enough have accumulated to justify a round-trip to the database. Unlike a
// time-windowed batcher, RowBuffer never flushes on its own — the Loader
// decides when to drain it (on threshold, and once all of a conversation's
// messages have been added) so
// that a flush failure can be attributed to a specific caller-driven step
// and rows are never silently dropped on a background timer.
type RowBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	maxSize int
}

// NewRowBuffer creates a buffer that reports ready once maxSize rows have
// accumulated.
func NewRowBuffer[T any](maxSize int) *RowBuffer[T] {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &RowBuffer[T]{maxSize: maxSize}
}

// Add appends a row and reports whether the buffer has reached its threshold.
func (b *RowBuffer[T]) Add(item T) (ready bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	return len(b.items) >= b.maxSize
}

// Drain removes and returns all buffered rows, resetting the buffer.
func (b *RowBuffer[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	items := b.items
	b.items = nil
	return items
}

// Len reports the number of rows currently buffered.
func (b *RowBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
