package vmath

import "container/heap"

// Candidate pairs a dense node id with its distance to the query
type Candidate struct {
	ID       uint32
	Distance float32
}

// Less orders candidates by distance; equal distances break toward the
// lower node id so search results are deterministic.
func (c Candidate) Less(other Candidate) bool {
	if c.Distance != other.Distance {
		return c.Distance < other.Distance
	}
	return c.ID < other.ID
}

// MinHeap pops the closest candidate first
type MinHeap struct {
	candidates []Candidate
}

// NewMinHeap creates a min-heap with the given capacity hint
func NewMinHeap(capacity int) *MinHeap {
	return &MinHeap{candidates: make([]Candidate, 0, capacity)}
}

func (h *MinHeap) Len() int { return len(h.candidates) }

func (h *MinHeap) Less(i, j int) bool {
	return h.candidates[i].Less(h.candidates[j])
}

func (h *MinHeap) Swap(i, j int) {
	h.candidates[i], h.candidates[j] = h.candidates[j], h.candidates[i]
}

func (h *MinHeap) Push(x any) {
	h.candidates = append(h.candidates, x.(Candidate))
}

func (h *MinHeap) Pop() any {
	old := h.candidates
	n := len(old)
	item := old[n-1]
	h.candidates = old[:n-1]
	return item
}

// PushCandidate adds a candidate to the heap
func (h *MinHeap) PushCandidate(c Candidate) {
	heap.Push(h, c)
}

// PopCandidate removes and returns the closest candidate
func (h *MinHeap) PopCandidate() Candidate {
	return heap.Pop(h).(Candidate)
}

// MaxHeap pops the farthest candidate first
type MaxHeap struct {
	candidates []Candidate
}

// NewMaxHeap creates a max-heap with the given capacity hint
func NewMaxHeap(capacity int) *MaxHeap {
	return &MaxHeap{candidates: make([]Candidate, 0, capacity)}
}

func (h *MaxHeap) Len() int { return len(h.candidates) }

func (h *MaxHeap) Less(i, j int) bool {
	return h.candidates[j].Less(h.candidates[i])
}

func (h *MaxHeap) Swap(i, j int) {
	h.candidates[i], h.candidates[j] = h.candidates[j], h.candidates[i]
}

func (h *MaxHeap) Push(x any) {
	h.candidates = append(h.candidates, x.(Candidate))
}

func (h *MaxHeap) Pop() any {
	old := h.candidates
	n := len(old)
	item := old[n-1]
	h.candidates = old[:n-1]
	return item
}

// PushCandidate adds a candidate to the heap
func (h *MaxHeap) PushCandidate(c Candidate) {
	heap.Push(h, c)
}

// PopCandidate removes and returns the farthest candidate
func (h *MaxHeap) PopCandidate() Candidate {
	return heap.Pop(h).(Candidate)
}

// Top returns the farthest candidate without removing it
func (h *MaxHeap) Top() Candidate {
	return h.candidates[0]
}

// Sorted drains the heap into a slice ordered closest first
func (h *MaxHeap) Sorted() []Candidate {
	result := make([]Candidate, h.Len())
	for i := h.Len() - 1; i >= 0; i-- {
		result[i] = h.PopCandidate()
	}
	return result
}
