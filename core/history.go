package core

import "sync"

const defaultHistoryCapacity = 100

// History is a fixed-capacity ring buffer that keeps the most recent items.
type History[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
	count int
	total int64
}

// NewHistory creates a History holding at most capacity items.
func NewHistory[T any](capacity int) *History[T] {
	if capacity < 1 {
		capacity = defaultHistoryCapacity
	}
	return &History[T]{items: make([]T, capacity)}
}

func (h *History[T]) Add(item T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = item
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
	h.total++
}

// Recent returns up to limit items, newest first. limit <= 0 returns everything retained.
func (h *History[T]) Recent(limit int) []T {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]T, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *History[T]) Last() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		var zero T
		return zero, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}

// Len is the number of retained items.
func (h *History[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Total is the number of items ever added, including evicted ones.
func (h *History[T]) Total() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *History[T]) Capacity() int {
	return len(h.items)
}
