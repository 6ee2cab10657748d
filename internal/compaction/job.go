package compaction

// job.go implements Phase B for every pass: open inputs by path, merge
// and filter per the pass's rules, and write the output SST to its
// final path. No lock is held while this runs; install (Phase C) is
// the engine's job once Execute returns.

import (
	"encoding/binary"
	"fmt"

	"github.com/aeternusdb/aeternusdb/internal/iterator"
	"github.com/aeternusdb/aeternusdb/internal/rangedel"
	"github.com/aeternusdb/aeternusdb/internal/table"
	"github.com/aeternusdb/aeternusdb/internal/testutil"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

func openSources(fsys vfs.FS, metas []SstMeta) ([]*table.Reader, []iterator.Source, error) {
	readers := make([]*table.Reader, 0, len(metas))
	sources := make([]iterator.Source, 0, len(metas))
	for _, m := range metas {
		r, err := table.Open(fsys, m.Path)
		if err != nil {
			closeReaders(readers)
			return nil, nil, err
		}
		readers = append(readers, r)
		src, err := r.NewScanSource(nil, nil)
		if err != nil {
			closeReaders(readers)
			return nil, nil, err
		}
		sources = append(sources, src)
	}
	return readers, sources, nil
}

func openReaders(fsys vfs.FS, metas []SstMeta) ([]*table.Reader, error) {
	readers := make([]*table.Reader, 0, len(metas))
	for _, m := range metas {
		r, err := table.Open(fsys, m.Path)
		if err != nil {
			closeReaders(readers)
			return nil, err
		}
		readers = append(readers, r)
	}
	return readers, nil
}

func closeReaders(readers []*table.Reader) {
	for _, r := range readers {
		_ = r.Close()
	}
}

// MetaFromFile reopens a freshly written SST to read back the metadata
// a planner needs — the single source of truth for an SST's properties
// is always its own properties block, never bookkeeping carried
// alongside the write that produced it.
func MetaFromFile(fsys vfs.FS, id uint64, path string) (*SstMeta, error) {
	r, err := table.Open(fsys, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return MetaFromReader(fsys, id, path, r)
}

// MetaFromReader builds an SstMeta from an already-open Reader,
// avoiding a second Open call for callers (engine recovery, chiefly)
// that already hold one open to serve reads from.
func MetaFromReader(fsys vfs.FS, id uint64, path string, r *table.Reader) (*SstMeta, error) {
	size := int64(0)
	if st, err := fsys.Stat(path); err == nil {
		size = st.Size()
	}

	return &SstMeta{
		ID:           id,
		Path:         path,
		Size:         uint64(size),
		MinKey:       append([]byte(nil), r.MinKey()...),
		MaxKey:       append([]byte(nil), r.MaxKey()...),
		NumEntries:   r.NumEntries(),
		NumDeletions: propUint64(r, table.PropNumDeletions),
		NumRangeDels: r.NumRangeTombstones(),
		MinLSN:       propUint64(r, table.PropMinLSN),
		MaxLSN:       propUint64(r, table.PropMaxLSN),
		CreationTime: int64(propUint64(r, table.PropCreationTime)),
		Bloom:        r.Bloom(),
	}, nil
}

func propUint64(r *table.Reader, name string) uint64 {
	b := r.Property(name)
	if len(b) != 8 {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ExecuteMinor implements §4.8.1's merge rules: dedup point entries by
// key keeping the highest LSN, preserve every point tombstone and
// every range tombstone untouched (they may still suppress data in
// SSTs outside this pass).
func ExecuteMinor(fsys vfs.FS, plan *Plan, outputID uint64, outputPath string, creationTime int64) (*Result, error) {
	if plan.Kind != KindMinor {
		return nil, fmt.Errorf("compaction: ExecuteMinor given a %s plan", plan.Kind)
	}
	testutil.MaybeKill(testutil.KPCompactionStart0)

	readers, sources, err := openSources(fsys, plan.Inputs)
	if err != nil {
		return nil, err
	}
	defer closeReaders(readers)
	_ = testutil.SP(testutil.SPCompactionOpenInputs)

	merged := iterator.NewMergingIterator(sources)
	points, tombstones := iterator.FlushSweep(merged)
	if len(points) == 0 && len(tombstones) == 0 {
		return &Result{Skip: true}, nil
	}

	expected := len(points)
	b := table.NewBuilder(fsys, outputPath, expected, creationTime)
	for _, e := range points {
		b.Add(e.Key, e.Value, e.LSN, e.TS, e.Kind == iterator.KindDelete)
	}
	for _, e := range tombstones {
		b.AddRangeTombstone(rangedel.New(e.Key, e.End, e.LSN, e.TS))
	}
	_ = testutil.SP(testutil.SPCompactionWriteOutput)
	testutil.MaybeKill(testutil.KPCompactionWriteSST0)
	if err := b.Finish(); err != nil {
		return nil, err
	}

	meta, err := MetaFromFile(fsys, outputID, outputPath)
	if err != nil {
		return nil, err
	}
	_ = testutil.SP(testutil.SPCompactionComplete)
	return &Result{Output: meta}, nil
}

// ExecuteMajor implements §4.8.3: merge every live SST, keep only each
// key's newest live value (VisibleIterator already applies exactly
// this resolution), and write a single output SST.
func ExecuteMajor(fsys vfs.FS, plan *Plan, outputID uint64, outputPath string, creationTime int64) (*Result, error) {
	if plan.Kind != KindMajor {
		return nil, fmt.Errorf("compaction: ExecuteMajor given a %s plan", plan.Kind)
	}
	testutil.MaybeKill(testutil.KPCompactionStart0)

	readers, sources, err := openSources(fsys, plan.Inputs)
	if err != nil {
		return nil, err
	}
	defer closeReaders(readers)

	merged := iterator.NewMergingIterator(sources)
	vis := iterator.NewVisibleIterator(merged)

	expected := 0
	for _, m := range plan.Inputs {
		expected += int(m.NumEntries)
	}
	b := table.NewBuilder(fsys, outputPath, expected, creationTime)
	for vis.Valid() {
		e := vis.Entry()
		b.Add(e.Key, e.Value, e.LSN, e.TS, false)
		vis.Next()
	}

	if b.NumEntries() == 0 {
		return &Result{Skip: true}, nil
	}
	testutil.MaybeKill(testutil.KPCompactionWriteSST0)
	if err := b.Finish(); err != nil {
		return nil, err
	}

	meta, err := MetaFromFile(fsys, outputID, outputPath)
	if err != nil {
		return nil, err
	}
	return &Result{Output: meta}, nil
}

// ExecuteTombstone implements §4.8.2's drop rules against the single
// candidate named in plan.Inputs[0], consulting plan.NonParticipating
// for bloom (and, where enabled, actual data) checks.
func ExecuteTombstone(fsys vfs.FS, plan *Plan, cfg Config, outputID uint64, outputPath string, creationTime int64) (*Result, error) {
	if plan.Kind != KindTombstone || len(plan.Inputs) != 1 {
		return nil, fmt.Errorf("compaction: ExecuteTombstone requires a single-input tombstone plan")
	}
	testutil.MaybeKill(testutil.KPCompactionStart0)
	target := plan.Inputs[0]

	r, err := table.Open(fsys, target.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	otherReaders, err := openReaders(fsys, plan.NonParticipating)
	if err != nil {
		return nil, err
	}
	defer closeReaders(otherReaders)

	agg := rangedel.NewAggregator()
	for _, or := range otherReaders {
		list := rangedel.NewList()
		for _, t := range or.RangeTombstones() {
			list.Add(t)
		}
		agg.AddRaw(list)
	}

	src, err := r.NewScanSource(nil, nil)
	if err != nil {
		return nil, err
	}

	var survivingPoints, survivingTombstones []iterator.Entry
	var dropped, kept uint64

	for src.Valid() {
		e := src.Entry()
		switch e.Kind {
		case iterator.KindRangeDelete:
			if canDropRangeTombstone(otherReaders, agg, e.Key, e.End, cfg) {
				dropped++
			} else {
				survivingTombstones = append(survivingTombstones, e)
				kept++
			}
		case iterator.KindDelete:
			if canDropPointTombstone(otherReaders, e.Key, cfg) {
				dropped++
			} else {
				survivingPoints = append(survivingPoints, e)
				kept++
			}
		default:
			survivingPoints = append(survivingPoints, e)
			kept++
		}
		src.Next()
	}

	if dropped == 0 {
		return &Result{Skip: true}, nil
	}
	if kept == 0 {
		return &Result{Dropped: true}, nil
	}

	b := table.NewBuilder(fsys, outputPath, len(survivingPoints), creationTime)
	for _, e := range survivingPoints {
		b.Add(e.Key, e.Value, e.LSN, e.TS, e.Kind == iterator.KindDelete)
	}
	for _, e := range survivingTombstones {
		b.AddRangeTombstone(rangedel.New(e.Key, e.End, e.LSN, e.TS))
	}
	testutil.MaybeKill(testutil.KPCompactionWriteSST0)
	if err := b.Finish(); err != nil {
		return nil, err
	}

	meta, err := MetaFromFile(fsys, outputID, outputPath)
	if err != nil {
		return nil, err
	}
	return &Result{Output: meta}, nil
}

// canDropPointTombstone reports whether a Delete for key can be
// physically dropped: no other live SST's bloom filter reports key as
// possibly present, or — with TombstoneBloomFallback — every bloom hit
// resolves to a genuine miss on Get.
func canDropPointTombstone(others []*table.Reader, key []byte, cfg Config) bool {
	for _, or := range others {
		if or.Bloom() != nil && !or.Bloom().MayContain(key) {
			continue
		}
		if !cfg.TombstoneBloomFallback {
			return false
		}
		_, _, tombstone, found, err := or.Get(key)
		if err != nil {
			return false
		}
		if found && !tombstone {
			return false
		}
	}
	return true
}

// canDropRangeTombstone reports whether a RangeDelete over [start, end)
// can be dropped: no other live SST has a bloom hit on start, or —
// with TombstoneRangeDrop — an actual scan over [start, end) in every
// bloom-hit SST turns up no live data.
func canDropRangeTombstone(others []*table.Reader, agg *rangedel.Aggregator, start, end []byte, cfg Config) bool {
	if agg.OverlapsRange(start, end) {
		return false
	}
	for _, or := range others {
		if or.Bloom() != nil && !or.Bloom().MayContain(start) {
			continue
		}
		if !cfg.TombstoneRangeDrop {
			return false
		}
		src, err := or.NewScanSource(start, end)
		if err != nil {
			return false
		}
		has := src.Valid()
		_ = src.Close()
		if has {
			return false
		}
	}
	return true
}
