package rangedel

// Aggregator combines fragmented tombstone lists from every source
// consulted by a single read or compaction — the active memtable, each
// frozen memtable, and each SST touched — into one structure that
// answers "is this key, at this LSN, suppressed by any tombstone in
// play." There are no levels and no snapshots in this engine: every
// source is weighted equally, and the highest LSN wins.
type Aggregator struct {
	sources []*FragmentedList
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add registers a fragmented list from one source. Empty lists are
// ignored.
func (a *Aggregator) Add(list *FragmentedList) {
	if list == nil || list.IsEmpty() {
		return
	}
	a.sources = append(a.sources, list)
}

// AddRaw fragments a raw, possibly-overlapping List and registers the
// result.
func (a *Aggregator) AddRaw(list *List) {
	if list == nil || list.IsEmpty() {
		return
	}
	f := NewFragmenter()
	for _, t := range list.All() {
		f.AddTombstone(t)
	}
	a.Add(f.Finish())
}

// Suppresses reports whether key, last written at keyLSN, is covered
// by a tombstone from any registered source with a higher LSN.
func (a *Aggregator) Suppresses(key []byte, keyLSN uint64) bool {
	return a.MaxCoveringLSN(key) > keyLSN
}

// MaxCoveringLSN returns the highest LSN among tombstones, across all
// sources, that cover key — or 0 if none do.
func (a *Aggregator) MaxCoveringLSN(key []byte) uint64 {
	var max uint64
	for _, list := range a.sources {
		if lsn := list.MaxCoveringLSN(key); lsn > max {
			max = lsn
		}
	}
	return max
}

// IsEmpty reports whether the aggregator holds no tombstones at all.
func (a *Aggregator) IsEmpty() bool {
	for _, list := range a.sources {
		if !list.IsEmpty() {
			return false
		}
	}
	return true
}

// NumTombstones returns the total fragment count across all sources.
func (a *Aggregator) NumTombstones() int {
	n := 0
	for _, list := range a.sources {
		n += list.Len()
	}
	return n
}

// OverlapsRange reports whether any source has a tombstone overlapping
// [start, end) — used by tombstone compaction to decide whether an SST
// not itself selected for the pass still needs its live keys checked
// against the compacting tombstones.
func (a *Aggregator) OverlapsRange(start, end []byte) bool {
	for _, list := range a.sources {
		if list.OverlapsRange(start, end) {
			return true
		}
	}
	return false
}

// ShouldDrop reports whether a point entry for key at keyLSN can be
// physically dropped during compaction: it is suppressed by a
// tombstone visible to every reader (there are no snapshots in this
// engine, so "suppressed" and "droppable" coincide).
func (a *Aggregator) ShouldDrop(key []byte, keyLSN uint64) bool {
	return a.Suppresses(key, keyLSN)
}
