package core

import "testing"

// TestHistory_RingBuffer tests eviction and ordering
// Main test items:
// 1. Recent returns newest first
// 2. Items beyond capacity evict the oldest
// 3. Total counts evicted items too
func TestHistory_RingBuffer(t *testing.T) {
	h := NewHistory[int](3)
	for i := 1; i <= 5; i++ {
		h.Add(i)
	}

	got := h.Recent(0)
	want := []int{5, 4, 3}
	if len(got) != len(want) {
		t.Fatalf("Recent = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Recent = %v, want %v", got, want)
		}
	}

	if got := h.Recent(2); len(got) != 2 || got[0] != 5 || got[1] != 4 {
		t.Fatalf("Recent(2) = %v, want [5 4]", got)
	}
	if last, ok := h.Last(); !ok || last != 5 {
		t.Fatalf("Last = %v,%v want 5,true", last, ok)
	}
	if h.Len() != 3 {
		t.Fatalf("Len = %d, want 3", h.Len())
	}
	if h.Total() != 5 {
		t.Fatalf("Total = %d, want 5", h.Total())
	}
}

func TestHistory_Empty(t *testing.T) {
	h := NewHistory[string](0)
	if h.Capacity() != defaultHistoryCapacity {
		t.Fatalf("Capacity = %d, want %d", h.Capacity(), defaultHistoryCapacity)
	}
	if _, ok := h.Last(); ok {
		t.Fatal("Last on empty history should report false")
	}
	if got := h.Recent(10); got != nil {
		t.Fatalf("Recent on empty history = %v, want nil", got)
	}
}
