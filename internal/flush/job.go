// Package flush converts a frozen memtable into a durable SST. A flush
// is Phase B only — open the memtable's flush iterator, write the
// output SST to its final path — the same shape Phase B of a
// compaction pass takes in internal/compaction. Installing the result
// (appending an AddSst manifest event, removing the memtable's frozen
// WAL, swapping it into the live SST set) is the engine's job once Run
// returns, since it needs the engine's own exclusive lock.
package flush

import (
	"errors"

	"github.com/aeternusdb/aeternusdb/internal/compaction"
	"github.com/aeternusdb/aeternusdb/internal/iterator"
	"github.com/aeternusdb/aeternusdb/internal/memtable"
	"github.com/aeternusdb/aeternusdb/internal/rangedel"
	"github.com/aeternusdb/aeternusdb/internal/table"
	"github.com/aeternusdb/aeternusdb/internal/testutil"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

// ErrEmpty is returned when the memtable holds nothing to flush — the
// caller should simply drop the frozen memtable without publishing an
// SST.
var ErrEmpty = errors.New("flush: memtable is empty")

// Job flushes one frozen memtable to a new SST.
type Job struct {
	fs           vfs.FS
	mem          *memtable.Memtable
	outputID     uint64
	outputPath   string
	creationTime int64
}

// NewJob returns a Job that will write mem's contents to outputPath
// once Run is called. mem must already be frozen.
func NewJob(fs vfs.FS, mem *memtable.Memtable, outputID uint64, outputPath string, creationTime int64) *Job {
	return &Job{fs: fs, mem: mem, outputID: outputID, outputPath: outputPath, creationTime: creationTime}
}

// Run writes the memtable's contents to the output SST: it reads every
// version from the memtable's scan source and passes it through
// iterator.FlushSweep, which keeps, per key, only the highest-LSN point
// entry plus every range tombstone (the same dedup-but-preserve rule a
// minor compaction pass applies to its inputs), then feeds the result
// into a table.Builder.
func (j *Job) Run() (*compaction.SstMeta, error) {
	testutil.MaybeKill(testutil.KPFlushStart0)
	_ = testutil.SP(testutil.SPFlushStart)

	src := j.mem.NewScanSource(nil, nil)
	defer func() { _ = src.Close() }()

	points, tombstones := iterator.FlushSweep(src)
	if len(points) == 0 && len(tombstones) == 0 {
		return nil, ErrEmpty
	}

	b := table.NewBuilder(j.fs, j.outputPath, len(points), j.creationTime)
	for _, e := range points {
		b.Add(e.Key, e.Value, e.LSN, e.TS, e.Kind == iterator.KindDelete)
	}
	for _, e := range tombstones {
		b.AddRangeTombstone(rangedel.New(e.Key, e.End, e.LSN, e.TS))
	}
	_ = testutil.SP(testutil.SPFlushWriteSST)
	testutil.MaybeKill(testutil.KPFlushWriteSST0)
	if err := b.Finish(); err != nil {
		return nil, err
	}

	meta, err := compaction.MetaFromFile(j.fs, j.outputID, j.outputPath)
	if err != nil {
		return nil, err
	}
	_ = testutil.SP(testutil.SPFlushComplete)
	return meta, nil
}
