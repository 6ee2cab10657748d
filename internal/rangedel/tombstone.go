// Package rangedel implements range-delete (DeleteRange) support: the
// RangeTombstone type, fragmentation of overlapping tombstones into a
// non-overlapping sorted list, and aggregation of tombstones from
// multiple sources (memtable, SSTs) for the read and compaction paths.
//
// A tombstone {start, end, lsn, ts} suppresses every key in
// [start, end) whose own LSN is less than the tombstone's LSN. LSN is
// the sole authority on ordering; timestamp travels along for
// age-based policy decisions but never decides visibility.
package rangedel

import "bytes"

// RangeTombstone covers [Start, End) as of LSN: any point entry in
// that range with a lower LSN is suppressed.
type RangeTombstone struct {
	Start []byte
	End   []byte
	LSN   uint64
	TS    int64
}

// New returns a tombstone over [start, end), copying both keys.
func New(start, end []byte, lsn uint64, ts int64) *RangeTombstone {
	return &RangeTombstone{
		Start: append([]byte(nil), start...),
		End:   append([]byte(nil), end...),
		LSN:   lsn,
		TS:    ts,
	}
}

// Contains reports whether key falls in [Start, End).
func (t *RangeTombstone) Contains(key []byte) bool {
	return bytes.Compare(key, t.Start) >= 0 && bytes.Compare(key, t.End) < 0
}

// Covers reports whether this tombstone suppresses key as it stood at
// keyLSN: key must fall in range, and keyLSN must predate the
// tombstone's LSN.
func (t *RangeTombstone) Covers(key []byte, keyLSN uint64) bool {
	return t.Contains(key) && keyLSN < t.LSN
}

// IsEmpty reports whether the range is degenerate (start >= end).
func (t *RangeTombstone) IsEmpty() bool {
	return bytes.Compare(t.Start, t.End) >= 0
}

// Overlaps reports whether two tombstones' ranges intersect.
func (t *RangeTombstone) Overlaps(other *RangeTombstone) bool {
	return bytes.Compare(t.Start, other.End) < 0 && bytes.Compare(other.Start, t.End) < 0
}

// Clone returns a deep copy.
func (t *RangeTombstone) Clone() *RangeTombstone {
	return New(t.Start, t.End, t.LSN, t.TS)
}

// Compare orders tombstones by start key ascending, then LSN
// descending — the order the memtable's range-tombstone map and the
// SST range-tombstones block both use.
func (t *RangeTombstone) Compare(other *RangeTombstone) int {
	if c := bytes.Compare(t.Start, other.Start); c != 0 {
		return c
	}
	switch {
	case t.LSN > other.LSN:
		return -1
	case t.LSN < other.LSN:
		return 1
	default:
		return 0
	}
}

// List is an unordered collection of tombstones awaiting fragmentation.
type List struct {
	tombstones []*RangeTombstone
}

// NewList returns an empty List.
func NewList() *List {
	return &List{}
}

// Add appends t to the list.
func (l *List) Add(t *RangeTombstone) {
	l.tombstones = append(l.tombstones, t)
}

// AddRange appends a new tombstone built from the given bounds.
func (l *List) AddRange(start, end []byte, lsn uint64, ts int64) {
	l.Add(New(start, end, lsn, ts))
}

// Len returns the number of tombstones in the list.
func (l *List) Len() int { return len(l.tombstones) }

// IsEmpty reports whether the list holds no tombstones.
func (l *List) IsEmpty() bool { return len(l.tombstones) == 0 }

// All returns every tombstone in the list, in insertion order.
func (l *List) All() []*RangeTombstone { return l.tombstones }

// MaxLSN returns the highest LSN among the list's tombstones.
func (l *List) MaxLSN() uint64 {
	var max uint64
	for _, t := range l.tombstones {
		if t.LSN > max {
			max = t.LSN
		}
	}
	return max
}
