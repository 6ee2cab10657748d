// Package memtable implements the in-memory, multi-version store that
// absorbs every write before it reaches an SST. A Memtable owns one
// active WAL segment: every mutation is durably appended there before
// it becomes visible in the ordered structures backing Get and scan.
//
// Point entries and range tombstones live in separate ordered
// containers, both keyed (key ASC, LSN DESC) so a single in-order walk
// yields every version of every key newest-first, matching the order
// the engine's merge iterator expects from every scan source.
package memtable

import (
	"bytes"
	"errors"
	"math"
	"sync"

	"github.com/google/btree"

	"github.com/aeternusdb/aeternusdb/internal/encoding"
	"github.com/aeternusdb/aeternusdb/internal/iterator"
	"github.com/aeternusdb/aeternusdb/internal/rangedel"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
	"github.com/aeternusdb/aeternusdb/internal/wal"
)

// btreeDegree is the branching factor for every tree a Memtable keeps.
// google/btree recommends a mid-sized degree for in-memory workloads;
// this is not on the hot path for tuning.
const btreeDegree = 32

// ErrFrozen is returned by Put, Delete, and DeleteRange once Freeze
// has been called; the engine must route new writes to a fresh active
// Memtable before this happens in normal operation.
var ErrFrozen = errors.New("memtable: write to frozen memtable")

// pointEntry is one version of one key held in the points tree.
type pointEntry struct {
	Key       []byte
	LSN       uint64
	TS        int64
	Tombstone bool
	Value     []byte
}

// pointLess orders pointEntry by key ascending, then LSN descending —
// higher LSNs sort first so the newest version of a key is visited
// first during an ascending walk.
func pointLess(a, b pointEntry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.LSN > b.LSN
}

func tombLess(a, b *rangedel.RangeTombstone) bool {
	return a.Compare(b) < 0
}

// Memtable is the active, writable multi-version store for one WAL
// segment's worth of mutations.
type Memtable struct {
	mu sync.RWMutex

	points     *btree.BTreeG[pointEntry]
	tombstones *btree.BTreeG[*rangedel.RangeTombstone]

	w *wal.WAL[walRecord]

	memoryUsage int64
	minLSN      uint64
	maxLSN      uint64

	numPuts         int
	numDeletes      int
	numRangeDeletes int
	frozen          bool
}

func newEmpty(w *wal.WAL[walRecord]) *Memtable {
	return &Memtable{
		points:     btree.NewG(btreeDegree, pointLess),
		tombstones: btree.NewG(btreeDegree, tombLess),
		w:          w,
	}
}

// Create allocates a fresh WAL segment at dir/seq and returns an empty
// Memtable backed by it.
func Create(fsys vfs.FS, dir string, seq uint64, maxRecordSize uint32) (*Memtable, error) {
	w, err := wal.Create[walRecord](fsys, dir, seq, maxRecordSize, walCodec{})
	if err != nil {
		return nil, err
	}
	return newEmpty(w), nil
}

// Open replays the WAL segment at dir/seq and rebuilds a Memtable from
// its records, leaving the WAL ready to accept further appends.
func Open(fsys vfs.FS, dir string, seq uint64, maxRecordSize uint32) (*Memtable, error) {
	w, records, err := wal.Open[walRecord](fsys, dir, seq, maxRecordSize, walCodec{})
	if err != nil {
		return nil, err
	}
	m := newEmpty(w)
	for _, rec := range records {
		m.applyRecord(rec)
	}
	return m, nil
}

// WALSeq returns the sequence number of the Memtable's WAL segment.
func (m *Memtable) WALSeq() uint64 { return m.w.Seq() }

// Close closes the underlying WAL file handle.
func (m *Memtable) Close() error {
	return m.w.Close()
}

func (m *Memtable) trackLSN(lsn uint64) {
	if m.minLSN == 0 || lsn < m.minLSN {
		m.minLSN = lsn
	}
	if lsn > m.maxLSN {
		m.maxLSN = lsn
	}
}

// applyRecord installs a replayed (or freshly appended) record into
// the in-memory structures. Caller must hold mu for writes made
// outside of Open (Open itself is single-threaded by construction).
func (m *Memtable) applyRecord(rec walRecord) {
	m.trackLSN(rec.LSN)
	switch rec.Kind {
	case kindPut:
		m.points.ReplaceOrInsert(pointEntry{Key: rec.Key, LSN: rec.LSN, TS: rec.TS, Value: rec.Value})
		m.numPuts++
		m.memoryUsage += int64(len(rec.Key) + len(rec.Value) + 32)
	case kindDelete:
		m.points.ReplaceOrInsert(pointEntry{Key: rec.Key, LSN: rec.LSN, TS: rec.TS, Tombstone: true})
		m.numDeletes++
		m.memoryUsage += int64(len(rec.Key) + 24)
	case kindRangeDelete:
		m.tombstones.ReplaceOrInsert(rangedel.New(rec.Key, rec.End, rec.LSN, rec.TS))
		m.numRangeDeletes++
		m.memoryUsage += int64(len(rec.Key) + len(rec.End) + 32)
	}
}

// Put durably records a point write and makes it visible.
func (m *Memtable) Put(key, value []byte, lsn uint64, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return ErrFrozen
	}
	rec := walRecord{Kind: kindPut, Key: key, Value: value, LSN: lsn, TS: ts}
	if err := m.w.Append(rec); err != nil {
		return err
	}
	m.applyRecord(rec)
	return nil
}

// Delete durably records a point tombstone and makes it visible.
func (m *Memtable) Delete(key []byte, lsn uint64, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return ErrFrozen
	}
	rec := walRecord{Kind: kindDelete, Key: key, LSN: lsn, TS: ts}
	if err := m.w.Append(rec); err != nil {
		return err
	}
	m.applyRecord(rec)
	return nil
}

// DeleteRange durably records a range tombstone over [start, end) and
// makes it visible.
func (m *Memtable) DeleteRange(start, end []byte, lsn uint64, ts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frozen {
		return ErrFrozen
	}
	rec := walRecord{Kind: kindRangeDelete, Key: start, End: end, LSN: lsn, TS: ts}
	if err := m.w.Append(rec); err != nil {
		return err
	}
	m.applyRecord(rec)
	return nil
}

// Freeze marks the Memtable read-only. Subsequent Put/Delete/
// DeleteRange calls return an error; Get and scans remain valid.
func (m *Memtable) Freeze() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen = true
}

// Frozen reports whether Freeze has been called.
func (m *Memtable) Frozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Get looks up key's newest version in this Memtable alone: the
// newest point entry or, if a range tombstone with a higher LSN
// covers the key, that tombstone's suppression. found is false only
// when neither a point entry nor a covering tombstone exists.
func (m *Memtable) Get(key []byte) (value []byte, lsn uint64, tombstone bool, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pointLSN uint64
	var pointFound bool
	m.points.AscendGreaterOrEqual(pointEntry{Key: key, LSN: math.MaxUint64}, func(p pointEntry) bool {
		if !bytes.Equal(p.Key, key) {
			return false
		}
		pointLSN = p.LSN
		pointFound = true
		value = p.Value
		tombstone = p.Tombstone
		return false
	})

	rangeLSN := m.maxCoveringTombstoneLSN(key)

	switch {
	case rangeLSN > pointLSN:
		return nil, rangeLSN, true, true
	case pointFound:
		return value, pointLSN, tombstone, true
	default:
		return nil, 0, false, false
	}
}

func (m *Memtable) maxCoveringTombstoneLSN(key []byte) uint64 {
	var max uint64
	m.tombstones.Ascend(func(t *rangedel.RangeTombstone) bool {
		if t.Contains(key) && t.LSN > max {
			max = t.LSN
		}
		return true
	})
	return max
}

// ApproximateMemoryUsage returns a rough byte count for flush
// scheduling decisions.
func (m *Memtable) ApproximateMemoryUsage() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.memoryUsage
}

// Count returns the number of distinct point entries (puts + deletes)
// held across all versions.
func (m *Memtable) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.points.Len()
}

// NumRangeTombstones returns the number of range tombstones held.
func (m *Memtable) NumRangeTombstones() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tombstones.Len()
}

// Empty reports whether the Memtable holds no entries at all.
func (m *Memtable) Empty() bool {
	return m.Count() == 0 && m.NumRangeTombstones() == 0
}

// MinLSN and MaxLSN report the LSN range of mutations held.
func (m *Memtable) MinLSN() uint64 { return m.minLSN }
func (m *Memtable) MaxLSN() uint64 { return m.maxLSN }

// FragmentedTombstones returns every range tombstone overlapping
// [start, end) as a fragmented, non-overlapping list, suitable for
// feeding a rangedel.Aggregator.
func (m *Memtable) FragmentedTombstones(start, end []byte) *rangedel.FragmentedList {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f := rangedel.NewFragmenter()
	m.tombstones.Ascend(func(t *rangedel.RangeTombstone) bool {
		if bytes.Compare(t.Start, end) < 0 && bytes.Compare(start, t.End) < 0 {
			f.AddTombstone(t)
		}
		return true
	})
	return f.Finish()
}

// NewScanSource returns an iterator.Source over every point entry and
// range tombstone whose range intersects [start, end), merged into a
// single (Key ASC, LSN DESC) stream for the engine's merge iterator.
// A nil end leaves the range unbounded above.
func (m *Memtable) NewScanSource(start, end []byte) iterator.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []iterator.Entry

	lo := pointEntry{Key: start, LSN: math.MaxUint64}
	collect := func(p pointEntry) bool {
		e := iterator.Entry{Key: p.Key, LSN: p.LSN, TS: p.TS, Kind: iterator.KindDelete}
		if !p.Tombstone {
			e.Kind = iterator.KindPut
			e.Value = p.Value
		}
		entries = append(entries, e)
		return true
	}
	if end == nil {
		m.points.AscendGreaterOrEqual(lo, collect)
	} else {
		m.points.AscendRange(lo, pointEntry{Key: end, LSN: math.MaxUint64}, collect)
	}

	m.tombstones.Ascend(func(t *rangedel.RangeTombstone) bool {
		if (end == nil || bytes.Compare(t.Start, end) < 0) && bytes.Compare(start, t.End) < 0 {
			entries = append(entries, iterator.Entry{
				Key: t.Start, End: t.End, LSN: t.LSN, TS: t.TS, Kind: iterator.KindRangeDelete,
			})
		}
		return true
	})

	sortEntries(entries)
	return &sliceSource{entries: entries}
}

// sortEntries orders a merged points+tombstones slice by (Key ASC,
// LSN DESC); points and tombstones were already individually sorted,
// so this is a simple stable insertion sort.
func sortEntries(entries []iterator.Entry) {
	// Points and range tombstones each arrive pre-sorted by (key, lsn
	// desc); a straightforward stable insertion sort over the
	// concatenation keeps the code simple since memtables are bounded
	// by write_buffer_size.
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entryLess(entries[j], entries[j-1]); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

func entryLess(a, b iterator.Entry) bool {
	if c := bytes.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	return a.LSN > b.LSN
}

// sliceSource adapts a pre-sorted []iterator.Entry to iterator.Source.
type sliceSource struct {
	entries []iterator.Entry
	pos     int
}

func (s *sliceSource) Valid() bool { return s.pos < len(s.entries) }
func (s *sliceSource) Entry() iterator.Entry {
	return s.entries[s.pos]
}
func (s *sliceSource) Next() { s.pos++ }
func (s *sliceSource) Close() error { return nil }

// walRecord is the on-WAL representation of a single mutation applied
// to this Memtable.
type walRecord struct {
	Kind  recordKind
	Key   []byte // Put/Delete key, or RangeDelete start
	End   []byte // RangeDelete only
	Value []byte // Put only
	LSN   uint64
	TS    int64
}

type recordKind uint8

const (
	kindPut recordKind = iota + 1
	kindDelete
	kindRangeDelete
)

type walCodec struct{}

func (walCodec) Encode(rec walRecord) []byte {
	w := encoding.NewWriter(len(rec.Key) + len(rec.End) + len(rec.Value) + 32)
	w.PutUint8(uint8(rec.Kind))
	w.PutUint64(rec.LSN)
	w.PutUint64(uint64(rec.TS))
	w.PutBytes(rec.Key)
	if rec.Kind == kindRangeDelete {
		w.PutBytes(rec.End)
	}
	if rec.Kind == kindPut {
		w.PutBytes(rec.Value)
	}
	return w.Bytes()
}

func (walCodec) Decode(data []byte) (walRecord, error) {
	r := encoding.NewReader(data)
	kindByte, err := r.GetUint8()
	if err != nil {
		return walRecord{}, err
	}
	lsn, err := r.GetUint64()
	if err != nil {
		return walRecord{}, err
	}
	tsRaw, err := r.GetUint64()
	if err != nil {
		return walRecord{}, err
	}
	key, err := r.GetBytes()
	if err != nil {
		return walRecord{}, err
	}
	rec := walRecord{
		Kind: recordKind(kindByte),
		Key:  append([]byte(nil), key...),
		LSN:  lsn,
		TS:   int64(tsRaw),
	}
	if rec.Kind == kindRangeDelete {
		end, err := r.GetBytes()
		if err != nil {
			return walRecord{}, err
		}
		rec.End = append([]byte(nil), end...)
	}
	if rec.Kind == kindPut {
		value, err := r.GetBytes()
		if err != nil {
			return walRecord{}, err
		}
		rec.Value = append([]byte(nil), value...)
	}
	return rec, nil
}
