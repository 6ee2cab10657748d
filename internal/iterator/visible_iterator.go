package iterator

import (
	"bytes"

	"github.com/aeternusdb/aeternusdb/internal/rangedel"
)

// VisibleEntry is one fully resolved, visible key/value pair produced
// by a scan: the newest live version of a key, with every older
// version and every tombstoned or range-deleted version already
// filtered out.
type VisibleEntry struct {
	Key   []byte
	Value []byte
	LSN   uint64
}

// VisibleIterator consumes a single merged (Key ASC, LSN DESC) raw
// stream — typically a MergingIterator over every memtable and SST
// scan source — and applies Table T1 resolution: for each key, the
// newest point version wins unless a range tombstone with a higher
// LSN covers it, in which case the key is suppressed entirely; a
// winning Delete is also suppressed.
//
// Range tombstones are encountered inline, at their Start key, and
// accumulate into an open-ended list for the remainder of the scan —
// correct because the stream is already in ascending key order, so a
// tombstone is always seen before any key it could suppress.
type VisibleIterator struct {
	src        Source
	tombstones []*rangedel.RangeTombstone

	cur   VisibleEntry
	valid bool
}

// NewVisibleIterator returns a VisibleIterator over src, positioned at
// the first visible entry, if any.
func NewVisibleIterator(src Source) *VisibleIterator {
	vi := &VisibleIterator{src: src}
	vi.advance()
	return vi
}

// Valid reports whether the iterator is positioned at a visible entry.
func (vi *VisibleIterator) Valid() bool { return vi.valid }

// Entry returns the entry at the iterator's current position. Only
// valid to call when Valid() is true.
func (vi *VisibleIterator) Entry() VisibleEntry { return vi.cur }

// Next advances to the next visible entry.
func (vi *VisibleIterator) Next() { vi.advance() }

// Close closes the underlying source.
func (vi *VisibleIterator) Close() error { return vi.src.Close() }

func (vi *VisibleIterator) absorbTombstone(e Entry) {
	vi.tombstones = append(vi.tombstones, rangedel.New(e.Key, e.End, e.LSN, e.TS))
}

func (vi *VisibleIterator) maxCoveringLSN(key []byte) uint64 {
	var max uint64
	for _, t := range vi.tombstones {
		if t.Contains(key) && t.LSN > max {
			max = t.LSN
		}
	}
	return max
}

func (vi *VisibleIterator) advance() {
	for vi.src.Valid() {
		e := vi.src.Entry()
		if e.Kind == KindRangeDelete {
			vi.absorbTombstone(e)
			vi.src.Next()
			continue
		}

		key := e.Key
		pointLSN := e.LSN
		pointKind := e.Kind
		pointValue := e.Value
		vi.src.Next()

		// The merge order guarantees every further entry for this key
		// carries a lower LSN than pointLSN; drop them, absorbing any
		// range tombstone anchored at the same key along the way.
		for vi.src.Valid() {
			next := vi.src.Entry()
			if next.Kind == KindRangeDelete && bytes.Equal(next.Key, key) {
				vi.absorbTombstone(next)
				vi.src.Next()
				continue
			}
			if !bytes.Equal(next.Key, key) {
				break
			}
			vi.src.Next()
		}

		rangeLSN := vi.maxCoveringLSN(key)
		if rangeLSN > pointLSN {
			continue
		}
		if pointKind == KindDelete {
			continue
		}

		vi.cur = VisibleEntry{Key: key, Value: pointValue, LSN: pointLSN}
		vi.valid = true
		return
	}
	vi.valid = false
}
