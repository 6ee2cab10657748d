package aeternusdb

import (
	"errors"
	"fmt"

	"github.com/aeternusdb/aeternusdb/internal/compaction"
	"github.com/aeternusdb/aeternusdb/internal/flush"
	"github.com/aeternusdb/aeternusdb/internal/logging"
	"github.com/aeternusdb/aeternusdb/internal/manifest"
	"github.com/aeternusdb/aeternusdb/internal/memtable"
	"github.com/aeternusdb/aeternusdb/internal/table"
	"github.com/aeternusdb/aeternusdb/internal/testutil"
	"github.com/aeternusdb/aeternusdb/internal/wal"
)

// Put durably records a point write, visible to subsequent Get/Scan
// calls as soon as it returns.
func (e *Engine) Put(key, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return e.mutate(RecordPut, key, value, nil)
}

// Delete durably records a point tombstone over key.
func (e *Engine) Delete(key []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return e.mutate(RecordDelete, key, nil, nil)
}

// DeleteRange durably records a range tombstone over [start, end).
func (e *Engine) DeleteRange(start, end []byte) error {
	if err := validateDeleteRange(start, end); err != nil {
		return err
	}
	return e.mutate(RecordDeleteRange, start, nil, end)
}

// mutate implements §4.7's put/delete/delete_range protocol: take the
// exclusive lock, rotate the active memtable first if the incoming
// record would push it over write_buffer_size, then apply.
func (e *Engine) mutate(kind RecordKind, key, value, end []byte) error {
	_ = testutil.SP(testutil.SPWriteStart)
	size := estimatedRecordSize(kind, key, value, end)
	if e.cfg.MaxRecordSize > 0 && size > uint64(e.cfg.MaxRecordSize) {
		return ErrRecordTooLarge
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if !e.active.Empty() && uint64(e.active.ApproximateMemoryUsage())+size > e.cfg.WriteBufferSize {
		if err := e.rotateActiveLocked(); err != nil {
			return err
		}
	}

	ts := e.clock.NowUnixNano()
	lsn := e.allocateLSN()

	_ = testutil.SP(testutil.SPWriteBeforeWAL)
	var err error
	switch kind {
	case RecordPut:
		err = e.active.Put(key, value, lsn, ts)
	case RecordDelete:
		err = e.active.Delete(key, lsn, ts)
	case RecordDeleteRange:
		err = e.active.DeleteRange(key, end, lsn, ts)
	}
	_ = testutil.SP(testutil.SPWriteComplete)
	return translateWriteErr(err)
}

// estimatedRecordSize mirrors the overhead memtable.applyRecord charges
// against ApproximateMemoryUsage, so the rotation check compares like
// with like.
func estimatedRecordSize(kind RecordKind, key, value, end []byte) uint64 {
	switch kind {
	case RecordPut:
		return uint64(len(key) + len(value) + 32)
	case RecordDeleteRange:
		return uint64(len(key) + len(end) + 32)
	default:
		return uint64(len(key) + 24)
	}
}

func translateWriteErr(err error) error {
	if errors.Is(err, wal.ErrRecordTooLarge) {
		return ErrRecordTooLarge
	}
	return err
}

// rotateActiveLocked freezes the current active memtable, opens a
// fresh one on the next WAL sequence, records both moves in the
// manifest, and enqueues the frozen memtable for background flush.
// Caller holds e.mu for writing.
func (e *Engine) rotateActiveLocked() error {
	oldSeq := e.active.WALSeq()
	newSeq := e.nextWALSeq
	e.nextWALSeq++

	newActive, err := memtable.Create(e.fs, e.memtablesDir, newSeq, e.cfg.MaxRecordSize)
	if err != nil {
		return err
	}
	if err := e.man.AddFrozenWal(oldSeq); err != nil {
		_ = newActive.Close()
		return err
	}
	if err := e.man.SetActiveWal(newSeq); err != nil {
		_ = newActive.Close()
		return err
	}

	old := e.active
	old.Freeze()
	e.frozen = append(e.frozen, old)
	e.active = newActive

	e.logger.Infof("%srotated wal %d -> %d, freezing %d entries", logging.NSFlush, oldSeq, newSeq, old.Count())

	// flushWG lets flushAllSync (Close, MajorCompact) wait for every
	// flush a rotation has already queued instead of racing the task
	// pump to flush the same memtable a second time.
	e.flushWG.Add(1)
	e.pump.SubmitFlush(func() {
		defer e.flushWG.Done()
		e.flushMemtable(old)
	})
	return nil
}

// flushMemtable runs Phase B (no lock held) for one frozen memtable,
// then installs the result under the exclusive lock and opportunistically
// schedules compaction, matching §5's flush-then-maybe-compact task shape.
func (e *Engine) flushMemtable(mem *memtable.Memtable) {
	id, err := e.man.AllocateSstId()
	if err != nil {
		e.logger.Errorf("%sallocate sst id for flush of wal %d: %v", logging.NSFlush, mem.WALSeq(), err)
		return
	}
	path := e.sstPath(id)

	job := flush.NewJob(e.fs, mem, id, path, e.clock.NowUnixNano())
	meta, err := job.Run()
	if err != nil && !errors.Is(err, flush.ErrEmpty) {
		e.logger.Errorf("%sflush wal %d: %v", logging.NSFlush, mem.WALSeq(), err)
		return
	}

	e.installFlush(mem, meta)
	e.pump.SubmitMaybeCompact(e.maybeCompact)
}

// installFlush retires mem's WAL and publishes its output SST (if any)
// under the exclusive lock.
func (e *Engine) installFlush(mem *memtable.Memtable, meta *compaction.SstMeta) {
	e.mu.Lock()
	defer e.mu.Unlock()

	walSeq := mem.WALSeq()
	testutil.MaybeKill(testutil.KPFlushUpdateManifest0)
	if meta != nil {
		if err := e.man.AddSst(meta.ID, meta.Path); err != nil {
			e.logger.Errorf("%spublish sst %d: %v", logging.NSFlush, meta.ID, err)
			return
		}
	}
	if err := e.man.RemoveFrozenWal(walSeq); err != nil {
		e.logger.Errorf("%sremove frozen wal %d: %v", logging.NSFlush, walSeq, err)
		return
	}
	testutil.MaybeKill(testutil.KPFlushUpdateManifest1)

	for i, fm := range e.frozen {
		if fm == mem {
			e.frozen = append(e.frozen[:i], e.frozen[i+1:]...)
			break
		}
	}

	if meta != nil {
		r, err := table.Open(e.fs, meta.Path)
		if err != nil {
			e.logger.Errorf("%sopen flushed sst %d: %v", logging.NSFlush, meta.ID, err)
		} else {
			e.insertSstLocked(&sstHandle{meta: *meta, reader: r})
		}
	}

	walPath := wal.Path(e.memtablesDir, walSeq)
	_ = mem.Close()
	if err := e.fs.Remove(walPath); err != nil {
		e.logger.Warnf("%sremove retired wal %d: %v", logging.NSFlush, walSeq, err)
	}
}

// liveSstMetasLocked returns metadata for every live SST not currently
// participating in a compaction. Caller holds e.mu (for reading or
// writing).
func (e *Engine) liveSstMetasLocked() []compaction.SstMeta {
	metas := make([]compaction.SstMeta, 0, len(e.ssts))
	for _, h := range e.ssts {
		if e.compacting[h.meta.ID] {
			continue
		}
		metas = append(metas, h.meta)
	}
	return metas
}

func (e *Engine) markCompactingLocked(plan *compaction.Plan) {
	for _, m := range plan.Inputs {
		e.compacting[m.ID] = true
	}
}

func (e *Engine) clearCompacting(plan *compaction.Plan) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range plan.Inputs {
		delete(e.compacting, m.ID)
	}
}

// maybeCompact opportunistically runs at most one compaction pass: a
// minor (size-tiered) pass if a bucket qualifies, else a tombstone pass
// if some SST's tombstone ratio qualifies. Runs with no lock held
// except for its own Plan/install critical sections, so it never
// blocks concurrent Get/Scan/Put for the duration of Phase B.
func (e *Engine) maybeCompact() {
	if e.runMinorCompaction() {
		return
	}
	e.runTombstoneCompaction()
}

func (e *Engine) runMinorCompaction() bool {
	e.mu.Lock()
	live := e.liveSstMetasLocked()
	plan := compaction.PlanMinor(live, e.cfg.compactionConfig())
	if plan == nil {
		e.mu.Unlock()
		return false
	}
	e.markCompactingLocked(plan)
	e.mu.Unlock()

	e.runCompactionPlan(plan, func(id uint64, path string, creationTime int64) (*compaction.Result, error) {
		return compaction.ExecuteMinor(e.fs, plan, id, path, creationTime)
	})
	return true
}

func (e *Engine) runTombstoneCompaction() bool {
	e.mu.Lock()
	live := e.liveSstMetasLocked()
	plan := compaction.PlanTombstone(live, e.cfg.compactionConfig(), e.clock.NowUnixNano())
	if plan == nil {
		e.mu.Unlock()
		return false
	}
	e.markCompactingLocked(plan)
	e.mu.Unlock()

	e.runCompactionPlan(plan, func(id uint64, path string, creationTime int64) (*compaction.Result, error) {
		return compaction.ExecuteTombstone(e.fs, plan, e.cfg.compactionConfig(), id, path, creationTime)
	})
	return true
}

// runCompactionPlan drives Phase B (via execute, with no lock held)
// then Phase C (install). On any error it logs and releases the
// compacting marks without mutating live state, leaving the inputs
// eligible for another attempt on the next maybe_compact pass.
func (e *Engine) runCompactionPlan(plan *compaction.Plan, execute func(id uint64, path string, creationTime int64) (*compaction.Result, error)) {
	id, err := e.man.AllocateSstId()
	if err != nil {
		e.logger.Errorf("%sallocate sst id for %s compaction: %v", logging.NSCompact, plan.Kind, err)
		e.clearCompacting(plan)
		return
	}
	path := e.sstPath(id)

	result, err := execute(id, path, e.clock.NowUnixNano())
	if err != nil {
		e.logger.Errorf("%s%s compaction: %v", logging.NSCompact, plan.Kind, err)
		e.clearCompacting(plan)
		return
	}

	e.installCompaction(plan, result, id, path)
}

// installCompaction implements Phase C: verify every input is still
// live, atomically swap the manifest's SST set, checkpoint, delete the
// superseded files, and publish the new SST (if any). Caller holds no
// lock; this acquires it itself.
func (e *Engine) installCompaction(plan *compaction.Plan, result *compaction.Result, outputID uint64, outputPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, m := range plan.Inputs {
		if _, ok := e.byID[m.ID]; !ok {
			if result.Output != nil {
				_ = e.fs.Remove(outputPath)
			}
			for _, in := range plan.Inputs {
				delete(e.compacting, in.ID)
			}
			return
		}
	}

	removed := make([]uint64, 0, len(plan.Inputs))
	for _, m := range plan.Inputs {
		removed = append(removed, m.ID)
	}

	var added []manifest.SstEntry
	if result.Output != nil {
		added = []manifest.SstEntry{{ID: result.Output.ID, Path: result.Output.Path}}
	}

	if err := e.man.Compaction(added, removed); err != nil {
		e.logger.Errorf("%srecord %s compaction: %v", logging.NSCompact, plan.Kind, err)
		for _, in := range plan.Inputs {
			delete(e.compacting, in.ID)
		}
		return
	}
	if err := e.man.Checkpoint(); err != nil {
		e.logger.Errorf("%scheckpoint after %s compaction: %v", logging.NSCompact, plan.Kind, err)
	}

	testutil.MaybeKill(testutil.KPCompactionDeleteInput0)
	for _, id := range removed {
		path := e.byID[id].meta.Path
		e.removeSstLocked(id)
		if err := e.fs.Remove(path); err != nil {
			e.logger.Warnf("%sremove superseded sst %d: %v", logging.NSCompact, id, err)
		}
		delete(e.compacting, id)
	}

	if result.Output != nil {
		r, err := table.Open(e.fs, outputPath)
		if err != nil {
			e.logger.Errorf("%sopen %s compaction output: %v", logging.NSCompact, plan.Kind, err)
		} else {
			e.insertSstLocked(&sstHandle{meta: *result.Output, reader: r})
		}
	}

	e.logger.Infof("%s%s compaction: removed %d, added %d", logging.NSCompact, plan.Kind, len(removed), len(added))
}

// flushAllSync waits until every memtable — frozen and, if non-empty,
// active — has been durably converted to an SST. Used by Close and
// MajorCompact, both of which must block until nothing is left sitting
// in a WAL.
//
// Every rotation already queues its own flush task on the pump and
// registers it on flushWG (see rotateActiveLocked), so there is no need
// to run a second, synchronous flush here: doing so would race the
// background worker over the same memtable and could flush it twice
// into two different SSTs. flushAllSync only has to trigger a rotation
// of the active memtable if it holds data, then wait for every flush
// already in flight (including the one just queued) to finish.
func (e *Engine) flushAllSync() error {
	e.mu.Lock()
	if !e.active.Empty() {
		if err := e.rotateActiveLocked(); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	e.mu.Unlock()

	e.flushWG.Wait()
	return nil
}

// runMajorCompaction runs a single synchronous major compaction pass
// (§4.8.3) over every live SST.
func (e *Engine) runMajorCompaction() error {
	e.mu.Lock()
	live := e.liveSstMetasLocked()
	plan := compaction.PlanMajor(live)
	if plan == nil {
		e.mu.Unlock()
		return nil
	}
	e.markCompactingLocked(plan)
	e.mu.Unlock()

	id, err := e.man.AllocateSstId()
	if err != nil {
		e.clearCompacting(plan)
		return fmt.Errorf("aeternusdb: allocate sst id for major compaction: %w", err)
	}
	path := e.sstPath(id)

	result, err := compaction.ExecuteMajor(e.fs, plan, id, path, e.clock.NowUnixNano())
	if err != nil {
		e.clearCompacting(plan)
		return fmt.Errorf("aeternusdb: major compaction: %w", err)
	}

	e.installCompaction(plan, result, id, path)
	return nil
}
