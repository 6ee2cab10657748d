package table

import (
	"bytes"
	"path/filepath"

	"github.com/aeternusdb/aeternusdb/internal/filter"
	"github.com/aeternusdb/aeternusdb/internal/rangedel"
	"github.com/aeternusdb/aeternusdb/internal/testutil"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

// Builder writes one SST file. Callers add cells in strictly ascending
// key order (ties broken by descending LSN, matching every scan
// source in the engine), then any range tombstones, then call Finish.
//
// The header carries record_count and tombstone_count, both only known
// once every cell has been seen, so the whole file is assembled in
// memory and written to the temp file in one sequential pass at
// Finish; vfs.WritableFile exposes no random-access write that would
// let the header be patched after the fact.
type Builder struct {
	fs   vfs.FS
	path string
	tmp  string

	body         bytes.Buffer
	blockBuf     []cell
	blockSize    int
	indexEntries []indexEntry

	bloom      *filter.Builder
	tombstones []*rangedel.RangeTombstone

	minKey []byte
	maxKey  []byte

	numEntries     uint64
	numDeletions   uint64
	numRangeDels   uint64
	minLSN, maxLSN uint64
	minTS, maxTS   int64
	haveLSN        bool
	haveTS         bool

	creationTime int64
	finished     bool
}

// NewBuilder returns a Builder that will write to path on Finish.
// expectedKeys sizes the Bloom filter; creationTime is recorded as the
// creation.time property and the header's creation_time field.
func NewBuilder(fsys vfs.FS, path string, expectedKeys int, creationTime int64) *Builder {
	return &Builder{
		fs:           fsys,
		path:         path,
		tmp:          path + ".tmp",
		bloom:        filter.NewBuilder(expectedKeys),
		creationTime: creationTime,
	}
}

// Add appends one point cell. Keys must arrive in ascending order
// (ties broken by descending LSN); Add does not re-sort.
func (b *Builder) Add(key, value []byte, lsn uint64, ts int64, deleted bool) {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)

	c := cell{Key: k, Value: v, TS: ts, Deleted: deleted, LSN: lsn}
	encoded := encodeCell(c)

	if len(b.blockBuf) > 0 && b.blockSize+len(encoded) > targetBlockSize {
		b.flushBlock()
	}

	b.blockBuf = append(b.blockBuf, c)
	b.blockSize += len(encoded)
	b.bloom.AddKey(k)

	if b.minKey == nil {
		b.minKey = k
	}
	b.maxKey = k

	b.numEntries++
	if deleted {
		b.numDeletions++
	}
	b.trackLSN(lsn)
	b.trackTS(ts)
}

// AddRangeTombstone records a range tombstone to be written to the
// range-tombstones block at Finish.
func (b *Builder) AddRangeTombstone(t *rangedel.RangeTombstone) {
	b.tombstones = append(b.tombstones, t)
	b.numRangeDels++
	b.trackLSN(t.LSN)
	b.trackTS(t.TS)
	if b.minKey == nil || bytes.Compare(t.Start, b.minKey) < 0 {
		b.minKey = append([]byte(nil), t.Start...)
	}
	if b.maxKey == nil || bytes.Compare(t.End, b.maxKey) > 0 {
		b.maxKey = append([]byte(nil), t.End...)
	}
}

func (b *Builder) trackLSN(lsn uint64) {
	if !b.haveLSN {
		b.minLSN, b.maxLSN = lsn, lsn
		b.haveLSN = true
		return
	}
	if lsn < b.minLSN {
		b.minLSN = lsn
	}
	if lsn > b.maxLSN {
		b.maxLSN = lsn
	}
}

func (b *Builder) trackTS(ts int64) {
	if !b.haveTS {
		b.minTS, b.maxTS = ts, ts
		b.haveTS = true
		return
	}
	if ts < b.minTS {
		b.minTS = ts
	}
	if ts > b.maxTS {
		b.maxTS = ts
	}
}

// NumEntries returns the number of cells added so far (puts + deletes).
func (b *Builder) NumEntries() int { return int(b.numEntries) }

// EstimatedSize returns the number of bytes written to the body buffer
// so far, plus the currently buffered, unflushed block.
func (b *Builder) EstimatedSize() int64 { return int64(b.body.Len()) + int64(b.blockSize) }

// flushBlock appends the currently buffered cells to the body as one
// data block and records its index entry. The separator is the last
// (greatest) key in the block: binary-searching the index for the
// first entry whose separator is >= a target key always lands on the
// block that key would be in, whether or not it's actually present.
func (b *Builder) flushBlock() {
	if len(b.blockBuf) == 0 {
		return
	}
	var raw bytes.Buffer
	for _, c := range b.blockBuf {
		raw.Write(encodeCell(c))
	}
	block := appendTrailer(raw.Bytes())
	offset := headerSize + b.body.Len()
	b.body.Write(block)
	b.indexEntries = append(b.indexEntries, indexEntry{
		Separator: b.blockBuf[len(b.blockBuf)-1].Key,
		Offset:    uint64(offset),
		Size:      uint32(len(block)),
	})
	b.blockBuf = b.blockBuf[:0]
	b.blockSize = 0
}

// Finish flushes any buffered block, assembles every remaining block
// (bloom, properties, range-tombstones, metaindex, index), the header,
// and the footer, then writes the whole file to a temp path, fsyncs,
// atomically renames it into place, and fsyncs the containing
// directory. Refuses to write a table with zero entries.
func (b *Builder) Finish() error {
	if b.finished {
		return errAlreadyFinished
	}
	b.finished = true

	if b.numEntries == 0 && b.numRangeDels == 0 {
		return ErrEmptyTable
	}

	b.flushBlock()

	offset := headerSize + b.body.Len()

	bloomPayload, err := b.bloom.Finish()
	if err != nil {
		return err
	}
	bloomBlock := appendTrailer(bloomPayload)
	bloomOffset := offset
	b.body.Write(bloomBlock)
	offset += len(bloomBlock)

	propsBlock := encodeProperties(b.properties())
	propsOffset := offset
	b.body.Write(propsBlock)
	offset += len(propsBlock)

	rangeDelBlock := encodeRangeTombstonesBlock(b.tombstones)
	rangeDelOffset := offset
	b.body.Write(rangeDelBlock)
	offset += len(rangeDelBlock)

	metaindex := encodeMetaindexBlock([]metaEntry{
		{Name: metaBloom, Offset: uint64(bloomOffset), Size: uint64(len(bloomBlock))},
		{Name: metaProperties, Offset: uint64(propsOffset), Size: uint64(len(propsBlock))},
		{Name: metaRangeDels, Offset: uint64(rangeDelOffset), Size: uint64(len(rangeDelBlock))},
	})
	metaindexOffset := offset
	b.body.Write(metaindex)
	offset += len(metaindex)

	indexBlock := encodeIndexBlock(b.indexEntries)
	indexOffset := offset
	b.body.Write(indexBlock)
	offset += len(indexBlock)

	totalSize := offset + footerSize

	hdr := encodeHeader(header{
		recordCount:    b.numEntries,
		tombstoneCount: b.numRangeDels,
		creationTime:   b.creationTime,
	})
	ft := encodeFooter(footer{
		metaindexOffset: uint64(metaindexOffset),
		metaindexSize:   uint64(len(metaindex)),
		indexOffset:     uint64(indexOffset),
		indexSize:       uint64(len(indexBlock)),
		totalFileSize:   uint64(totalSize),
	})

	f, err := b.fs.Create(b.tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(hdr); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(b.body.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(ft); err != nil {
		_ = f.Close()
		return err
	}
	testutil.MaybeKill(testutil.KPSSTClose0)
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	testutil.MaybeKill(testutil.KPSSTClose1)

	if err := b.fs.Rename(b.tmp, b.path); err != nil {
		return err
	}
	return b.fs.SyncDir(filepath.Dir(b.path))
}

func (b *Builder) properties() map[string][]byte {
	return map[string][]byte{
		PropCreationTime: uint64Bytes(uint64(b.creationTime)),
		PropNumEntries:   uint64Bytes(b.numEntries),
		PropNumDeletions: uint64Bytes(b.numDeletions),
		PropNumRangeDels: uint64Bytes(b.numRangeDels),
		PropMinLSN:       uint64Bytes(b.minLSN),
		PropMaxLSN:       uint64Bytes(b.maxLSN),
		PropMinTimestamp: uint64Bytes(uint64(b.minTS)),
		PropMaxTimestamp: uint64Bytes(uint64(b.maxTS)),
		PropMinKey:       b.minKey,
		PropMaxKey:       b.maxKey,
	}
}
