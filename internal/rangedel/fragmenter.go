package rangedel

import (
	"bytes"
	"sort"
)

// FragmentedList holds non-overlapping tombstones sorted by start key,
// each carrying the maximum LSN of any input tombstone that covered
// its span. This is the form both the SST range-tombstones block and
// the aggregator operate on, since it supports binary search.
type FragmentedList struct {
	fragments []*RangeTombstone
}

// NewFragmentedList returns an empty FragmentedList.
func NewFragmentedList() *FragmentedList {
	return &FragmentedList{}
}

// Len returns the number of fragments.
func (f *FragmentedList) Len() int { return len(f.fragments) }

// IsEmpty reports whether the list has no fragments.
func (f *FragmentedList) IsEmpty() bool { return len(f.fragments) == 0 }

// Get returns the fragment at i, or nil if i is out of range.
func (f *FragmentedList) Get(i int) *RangeTombstone {
	if i < 0 || i >= len(f.fragments) {
		return nil
	}
	return f.fragments[i]
}

// All returns every fragment, sorted by start key.
func (f *FragmentedList) All() []*RangeTombstone { return f.fragments }

// Covers reports whether key at keyLSN is suppressed by any fragment.
func (f *FragmentedList) Covers(key []byte, keyLSN uint64) bool {
	idx := f.searchForKey(key)
	if idx < 0 {
		return false
	}
	return f.fragments[idx].Covers(key, keyLSN)
}

// searchForKey returns the index of the rightmost fragment whose
// start key is <= key, or -1 if none qualifies. Because fragments are
// non-overlapping and sorted, that fragment is the only candidate
// that could contain key.
func (f *FragmentedList) searchForKey(key []byte) int {
	if len(f.fragments) == 0 {
		return -1
	}
	idx := sort.Search(len(f.fragments), func(i int) bool {
		return bytes.Compare(f.fragments[i].Start, key) > 0
	})
	return idx - 1
}

// MaxCoveringLSN returns the highest LSN among fragments covering key,
// or 0 if none cover it.
func (f *FragmentedList) MaxCoveringLSN(key []byte) uint64 {
	idx := f.searchForKey(key)
	if idx < 0 {
		return 0
	}
	frag := f.fragments[idx]
	if !frag.Contains(key) {
		return 0
	}
	return frag.LSN
}

// OverlapsRange reports whether any fragment intersects [start, end).
func (f *FragmentedList) OverlapsRange(start, end []byte) bool {
	for _, frag := range f.fragments {
		if bytes.Compare(frag.Start, end) < 0 && bytes.Compare(start, frag.End) < 0 {
			return true
		}
	}
	return false
}

// Fragmenter accumulates possibly-overlapping tombstones and produces
// a FragmentedList. Fragmentation walks the sorted set of unique
// boundary points and, for each adjacent pair, keeps the maximum LSN
// among the tombstones that fully span it.
type Fragmenter struct {
	tombstones []*RangeTombstone
}

// NewFragmenter returns an empty Fragmenter.
func NewFragmenter() *Fragmenter {
	return &Fragmenter{}
}

// Add appends a tombstone built from the given bounds; empty ranges
// are silently dropped.
func (f *Fragmenter) Add(start, end []byte, lsn uint64, ts int64) {
	if bytes.Compare(start, end) >= 0 {
		return
	}
	f.tombstones = append(f.tombstones, New(start, end, lsn, ts))
}

// AddTombstone appends an existing tombstone, cloning it.
func (f *Fragmenter) AddTombstone(t *RangeTombstone) {
	if t.IsEmpty() {
		return
	}
	f.tombstones = append(f.tombstones, t.Clone())
}

// Len returns the number of tombstones added so far.
func (f *Fragmenter) Len() int { return len(f.tombstones) }

// Finish fragments every added tombstone and returns the result. The
// Fragmenter remains usable afterward but still holds its inputs;
// callers that want to reuse it should call Clear first.
func (f *Fragmenter) Finish() *FragmentedList {
	result := NewFragmentedList()
	if len(f.tombstones) == 0 {
		return result
	}

	boundaries := f.collectBoundaries()
	for i := 0; i < len(boundaries)-1; i++ {
		start, end := boundaries[i], boundaries[i+1]
		maxLSN, maxTS := f.maxForRange(start, end)
		if maxLSN > 0 {
			result.fragments = append(result.fragments, New(start, end, maxLSN, maxTS))
		}
	}
	return result
}

func (f *Fragmenter) collectBoundaries() [][]byte {
	seen := make(map[string]struct{}, len(f.tombstones)*2)
	boundaries := make([][]byte, 0, len(f.tombstones)*2)
	for _, t := range f.tombstones {
		for _, k := range [][]byte{t.Start, t.End} {
			s := string(k)
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			boundaries = append(boundaries, k)
		}
	}
	sort.Slice(boundaries, func(i, j int) bool {
		return bytes.Compare(boundaries[i], boundaries[j]) < 0
	})
	return boundaries
}

// maxForRange returns the LSN/timestamp of the tombstone with the
// highest LSN among those that fully span [start, end). Since start
// and end are both boundary points, any tombstone overlapping this
// span at all necessarily spans it fully.
func (f *Fragmenter) maxForRange(start, end []byte) (lsn uint64, ts int64) {
	for _, t := range f.tombstones {
		if bytes.Compare(t.Start, start) <= 0 && bytes.Compare(t.End, end) >= 0 {
			if t.LSN > lsn {
				lsn, ts = t.LSN, t.TS
			}
		}
	}
	return lsn, ts
}

// Clear discards every added tombstone, allowing the Fragmenter to be
// reused for the next SST or compaction output.
func (f *Fragmenter) Clear() {
	f.tombstones = f.tombstones[:0]
}
