// Package iterator merges the raw scan streams produced by the active
// memtable, every frozen memtable, and every SST into one globally
// ordered stream, then applies the visibility rules that turn that
// raw stream into the key/value pairs a scan or get actually returns.
package iterator

import (
	"bytes"
	"container/heap"
)

// MergingIterator merges several Sources, already each sorted (Key
// ASC, LSN DESC), into one stream in the same order. Ties are broken
// by source index ascending: callers order sources newest-first
// (active memtable, frozen memtables oldest-to-newest reversed, then
// SSTs newest-to-oldest), so a lower index wins a tie deterministically
// without needing to compare LSNs that should never collide anyway.
type MergingIterator struct {
	sources []Source
	h       sourceHeap
	started bool
}

// NewMergingIterator returns a MergingIterator over sources. Ownership
// of each Source (and the obligation to Close it) passes to the
// returned iterator.
func NewMergingIterator(sources []Source) *MergingIterator {
	return &MergingIterator{sources: sources}
}

func (m *MergingIterator) init() {
	m.started = true
	m.h = make(sourceHeap, 0, len(m.sources))
	for i, s := range m.sources {
		if s.Valid() {
			m.h = append(m.h, heapItem{sourceIndex: i, entry: s.Entry()})
		}
	}
	heap.Init(&m.h)
}

// Valid reports whether the iterator is positioned at an entry.
func (m *MergingIterator) Valid() bool {
	if !m.started {
		m.init()
	}
	return len(m.h) > 0
}

// Entry returns the entry at the iterator's current position: the
// least (Key, Reverse(LSN)) across every source not yet exhausted.
func (m *MergingIterator) Entry() Entry {
	return m.h[0].entry
}

// Next advances the source that produced the current entry and
// re-establishes heap order.
func (m *MergingIterator) Next() {
	if !m.Valid() {
		return
	}
	top := m.h[0]
	src := m.sources[top.sourceIndex]
	src.Next()
	if src.Valid() {
		m.h[0].entry = src.Entry()
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}
}

// Close closes every underlying source, returning the first error
// encountered, if any.
func (m *MergingIterator) Close() error {
	var first error
	for _, s := range m.sources {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

type heapItem struct {
	sourceIndex int
	entry       Entry
}

type sourceHeap []heapItem

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	if c := bytes.Compare(h[i].entry.Key, h[j].entry.Key); c != 0 {
		return c < 0
	}
	if h[i].entry.LSN != h[j].entry.LSN {
		return h[i].entry.LSN > h[j].entry.LSN
	}
	return h[i].sourceIndex < h[j].sourceIndex
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x any) {
	*h = append(*h, x.(heapItem))
}

func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
