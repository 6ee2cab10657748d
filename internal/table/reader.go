package table

import (
	"bytes"
	"sort"

	"github.com/aeternusdb/aeternusdb/internal/filter"
	"github.com/aeternusdb/aeternusdb/internal/iterator"
	"github.com/aeternusdb/aeternusdb/internal/rangedel"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

// Reader opens an existing SST for point lookups and range scans. A
// Reader holds one open random-access file handle; data blocks are
// read and checksum-verified lazily, on demand.
type Reader struct {
	raf  vfs.RandomAccessFile
	path string

	hdr header
	idx []indexEntry

	bloom      *filter.Filter
	props      map[string][]byte
	tombstones []*rangedel.RangeTombstone

	minKey, maxKey []byte
}

// Open opens path and parses its header, footer, metaindex, and index.
// Data blocks are not read until Get or Scan touches them.
func Open(fsys vfs.FS, path string) (*Reader, error) {
	raf, err := fsys.OpenRandomAccess(path)
	if err != nil {
		return nil, err
	}
	r, err := openReader(raf, path)
	if err != nil {
		_ = raf.Close()
		return nil, err
	}
	return r, nil
}

func openReader(raf vfs.RandomAccessFile, path string) (*Reader, error) {
	size := raf.Size()
	if size < headerSize+footerSize {
		return nil, ErrTruncated
	}

	headerBuf := make([]byte, headerSize)
	if _, err := raf.ReadAt(headerBuf, 0); err != nil {
		return nil, err
	}
	hdr, err := decodeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	footerBuf := make([]byte, footerSize)
	if _, err := raf.ReadAt(footerBuf, size-footerSize); err != nil {
		return nil, err
	}
	ft, err := decodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	metaindexBuf := make([]byte, ft.metaindexSize)
	if _, err := raf.ReadAt(metaindexBuf, int64(ft.metaindexOffset)); err != nil {
		return nil, err
	}
	metaMap, err := decodeMetaindexBlock(metaindexBuf)
	if err != nil {
		return nil, err
	}

	indexBuf := make([]byte, ft.indexSize)
	if _, err := raf.ReadAt(indexBuf, int64(ft.indexOffset)); err != nil {
		return nil, err
	}
	idx, err := decodeIndexBlock(indexBuf)
	if err != nil {
		return nil, err
	}

	r := &Reader{raf: raf, path: path, hdr: hdr, idx: idx}

	if me, ok := metaMap[metaBloom]; ok {
		buf := make([]byte, me.Size)
		if _, err := raf.ReadAt(buf, int64(me.Offset)); err != nil {
			return nil, err
		}
		body, err := splitTrailer(buf)
		if err != nil {
			return nil, err
		}
		f, err := filter.Load(body)
		if err != nil {
			return nil, err
		}
		r.bloom = f
	}

	if me, ok := metaMap[metaProperties]; ok {
		buf := make([]byte, me.Size)
		if _, err := raf.ReadAt(buf, int64(me.Offset)); err != nil {
			return nil, err
		}
		props, err := decodeProperties(buf)
		if err != nil {
			return nil, err
		}
		r.props = props
		r.minKey = props[PropMinKey]
		r.maxKey = props[PropMaxKey]
	}

	if me, ok := metaMap[metaRangeDels]; ok {
		buf := make([]byte, me.Size)
		if _, err := raf.ReadAt(buf, int64(me.Offset)); err != nil {
			return nil, err
		}
		tombstones, err := decodeRangeTombstonesBlock(buf)
		if err != nil {
			return nil, err
		}
		r.tombstones = tombstones
	}

	return r, nil
}

// Close closes the underlying file handle.
func (r *Reader) Close() error { return r.raf.Close() }

// Path returns the file path this Reader was opened from.
func (r *Reader) Path() string { return r.path }

// NumEntries and NumRangeTombstones report the header's counts.
func (r *Reader) NumEntries() uint64        { return r.hdr.recordCount }
func (r *Reader) NumRangeTombstones() uint64 { return r.hdr.tombstoneCount }

// MinKey and MaxKey report the inclusive key range this table can
// possibly satisfy, across both point entries and range tombstones.
func (r *Reader) MinKey() []byte { return r.minKey }
func (r *Reader) MaxKey() []byte { return r.maxKey }

// Property returns the raw bytes of a properties-block value, or nil
// if the table has no such property.
func (r *Reader) Property(name string) []byte { return r.props[name] }

// Bloom returns the table's bloom filter, or nil if it was written
// without one.
func (r *Reader) Bloom() *filter.Filter { return r.bloom }

// RangeTombstones returns every range tombstone stored in the table,
// in ascending-start-key order. Used by tombstone compaction to decide
// whether a tombstone in another live SST overlaps a rewrite
// candidate's key range.
func (r *Reader) RangeTombstones() []*rangedel.RangeTombstone { return r.tombstones }

// inRange reports whether key could fall within this table's key span.
func (r *Reader) inRange(key []byte) bool {
	if r.minKey != nil && bytes.Compare(key, r.minKey) < 0 {
		return false
	}
	if r.maxKey != nil && bytes.Compare(key, r.maxKey) > 0 {
		return false
	}
	return true
}

// findBlock returns the index of the first data block whose separator
// is >= key, or -1 if no such block exists (key is past every block).
func (r *Reader) findBlock(key []byte) int {
	i := sort.Search(len(r.idx), func(i int) bool {
		return bytes.Compare(r.idx[i].Separator, key) >= 0
	})
	if i == len(r.idx) {
		return -1
	}
	return i
}

func (r *Reader) readBlock(i int) ([]cell, error) {
	e := r.idx[i]
	buf := make([]byte, e.Size)
	if _, err := r.raf.ReadAt(buf, int64(e.Offset)); err != nil {
		return nil, err
	}
	body, err := splitTrailer(buf)
	if err != nil {
		return nil, err
	}
	return decodeBlock(body)
}

// maxCoveringTombstoneLSN returns the highest LSN among this table's
// range tombstones that cover key, or 0 if none do.
func (r *Reader) maxCoveringTombstoneLSN(key []byte) uint64 {
	var max uint64
	for _, t := range r.tombstones {
		if t.Contains(key) && t.LSN > max {
			max = t.LSN
		}
	}
	return max
}

// Get resolves key within this table alone, applying Table T1
// resolution between the table's single stored point version (if any)
// and any covering range tombstone. found is false only when neither
// exists.
func (r *Reader) Get(key []byte) (value []byte, lsn uint64, tombstone bool, found bool, err error) {
	if !r.inRange(key) {
		return nil, 0, false, false, nil
	}

	var pointFound bool
	var pointLSN uint64
	var pointValue []byte
	var pointTombstone bool

	if r.bloom == nil || r.bloom.MayContain(key) {
		bi := r.findBlock(key)
		if bi >= 0 {
			cells, err := r.readBlock(bi)
			if err != nil {
				return nil, 0, false, false, err
			}
			for _, c := range cells {
				if bytes.Equal(c.Key, key) {
					pointFound = true
					pointLSN = c.LSN
					pointValue = c.Value
					pointTombstone = c.Deleted
					break
				}
			}
		}
	}

	rangeLSN := r.maxCoveringTombstoneLSN(key)

	switch {
	case rangeLSN > pointLSN:
		return nil, rangeLSN, true, true, nil
	case pointFound:
		return pointValue, pointLSN, pointTombstone, true, nil
	default:
		return nil, 0, false, false, nil
	}
}

// NewScanSource returns an iterator.Source over every cell and range
// tombstone in this table overlapping [start, end), merged into a
// single (Key ASC, LSN DESC) stream. Only the overlapping data blocks
// are read, not the whole table.
func (r *Reader) NewScanSource(start, end []byte) (iterator.Source, error) {
	from := 0
	if start != nil {
		from = r.findBlock(start)
		if from < 0 {
			from = len(r.idx)
		}
	}

	var cells []cell
	for i := from; i < len(r.idx); i++ {
		blockCells, err := r.readBlock(i)
		if err != nil {
			return nil, err
		}
		for _, c := range blockCells {
			if start != nil && bytes.Compare(c.Key, start) < 0 {
				continue
			}
			if end != nil && bytes.Compare(c.Key, end) >= 0 {
				continue
			}
			cells = append(cells, c)
		}
		if end != nil && bytes.Compare(r.idx[i].Separator, end) >= 0 {
			break
		}
	}

	var tombstones []*rangedel.RangeTombstone
	for _, t := range r.tombstones {
		if rangeOverlaps(t, start, end) {
			tombstones = append(tombstones, t)
		}
	}

	entries := make([]iterator.Entry, 0, len(cells)+len(tombstones))
	for _, c := range cells {
		e := iterator.Entry{Key: c.Key, LSN: c.LSN, TS: c.TS, Kind: iterator.KindDelete}
		if !c.Deleted {
			e.Kind = iterator.KindPut
			e.Value = c.Value
		}
		entries = append(entries, e)
	}
	for _, t := range tombstones {
		entries = append(entries, iterator.Entry{
			Key: t.Start, End: t.End, LSN: t.LSN, TS: t.TS, Kind: iterator.KindRangeDelete,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if c := bytes.Compare(entries[i].Key, entries[j].Key); c != 0 {
			return c < 0
		}
		return entries[i].LSN > entries[j].LSN
	})

	return &sliceSource{entries: entries}, nil
}

func rangeOverlaps(t *rangedel.RangeTombstone, start, end []byte) bool {
	if end != nil && bytes.Compare(t.Start, end) >= 0 {
		return false
	}
	if start != nil && bytes.Compare(start, t.End) >= 0 {
		return false
	}
	return true
}

// sliceSource adapts a pre-sorted []iterator.Entry to iterator.Source.
type sliceSource struct {
	entries []iterator.Entry
	pos     int
}

func (s *sliceSource) Valid() bool          { return s.pos < len(s.entries) }
func (s *sliceSource) Entry() iterator.Entry { return s.entries[s.pos] }
func (s *sliceSource) Next()                { s.pos++ }
func (s *sliceSource) Close() error          { return nil }
