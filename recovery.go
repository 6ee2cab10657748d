package aeternusdb

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aeternusdb/aeternusdb/internal/compaction"
	"github.com/aeternusdb/aeternusdb/internal/logging"
	"github.com/aeternusdb/aeternusdb/internal/manifest"
	"github.com/aeternusdb/aeternusdb/internal/memtable"
	"github.com/aeternusdb/aeternusdb/internal/table"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

// recover runs the engine's seven-step open protocol (§4.7): ensure the
// directory layout exists, open the manifest, open every referenced
// SST, rebuild every memtable from its WAL, sweep orphan SSTs, and seed
// the LSN counter from whatever the recovered state's high-water mark
// turns out to be. Caller holds no lock yet — Open has not published e
// to any other goroutine.
func (e *Engine) recover() error {
	if err := e.fs.MkdirAll(e.manifestDir, 0o755); err != nil {
		return err
	}
	if err := e.fs.MkdirAll(e.memtablesDir, 0o755); err != nil {
		return err
	}
	if err := e.fs.MkdirAll(e.sstablesDir, 0o755); err != nil {
		return err
	}

	lock, err := e.fs.Lock(filepath.Join(e.dir, lockFileName))
	if err != nil {
		return fmt.Errorf("aeternusdb: acquire directory lock: %w", err)
	}
	e.dirLock = lock

	man, err := openOrCreateManifest(e.fs, e.manifestDir)
	if err != nil {
		return err
	}
	e.man = man
	state := man.State()

	var maxLSN uint64
	if state.LastLsn > maxLSN {
		maxLSN = state.LastLsn
	}

	if err := e.openLiveSsts(state); err != nil {
		return err
	}
	for _, h := range e.ssts {
		if h.meta.MaxLSN > maxLSN {
			maxLSN = h.meta.MaxLSN
		}
	}

	for _, walID := range state.FrozenWals {
		fm, err := memtable.Open(e.fs, e.memtablesDir, walID, e.cfg.MaxRecordSize)
		if err != nil {
			return fmt.Errorf("aeternusdb: replay frozen wal %d: %w", walID, err)
		}
		e.frozen = append(e.frozen, fm)
		if fm.MaxLSN() > maxLSN {
			maxLSN = fm.MaxLSN()
		}
	}

	active, err := e.openOrCreateActive(state.ActiveWal)
	if err != nil {
		return err
	}
	e.active = active
	if active.MaxLSN() > maxLSN {
		maxLSN = active.MaxLSN()
	}
	if active.WALSeq() >= e.nextWALSeq {
		e.nextWALSeq = active.WALSeq() + 1
	}
	for _, walID := range state.FrozenWals {
		if walID >= e.nextWALSeq {
			e.nextWALSeq = walID + 1
		}
	}

	if err := e.cleanOrphanSsts(state); err != nil {
		return err
	}

	e.lsn = maxLSN
	e.logger.Infof("%srecovered active_wal=%d frozen=%d live_ssts=%d max_lsn=%d",
		logging.NSRecovery, state.ActiveWal, len(e.frozen), len(e.ssts), maxLSN)
	return nil
}

// openOrCreateManifest opens an existing manifest directory, or
// initializes a fresh one if this is the first time dir has been
// opened — AeternusDB's Open always creates if missing (§4.7).
func openOrCreateManifest(fs vfs.FS, dir string) (*manifest.Manifest, error) {
	if fs.Exists(filepath.Join(dir, "CURRENT")) {
		return manifest.Open(fs, dir)
	}
	return manifest.Create(fs, dir)
}

// openLiveSsts opens and validates every SST the manifest references,
// populating e.ssts/e.byID in MaxLSN-descending order via
// insertSstLocked (no lock contention yet: e is not published).
func (e *Engine) openLiveSsts(state *manifest.State) error {
	for _, id := range sortedIDs(state.Ssts) {
		path := state.Ssts[id]
		r, err := table.Open(e.fs, path)
		if err != nil {
			return fmt.Errorf("aeternusdb: open sstable %d (%s): %w", id, path, err)
		}
		meta, err := compaction.MetaFromReader(e.fs, id, path, r)
		if err != nil {
			_ = r.Close()
			return err
		}
		e.insertSstLocked(&sstHandle{meta: *meta, reader: r})
	}
	return nil
}

// openOrCreateActive opens the memtable WAL the manifest names as
// active, or creates wal-1 and records it as active if this is a fresh
// database (state.ActiveWal is zero exactly when no SetActiveWal event
// has ever been applied).
func (e *Engine) openOrCreateActive(activeWal uint64) (*memtable.Memtable, error) {
	if activeWal != 0 {
		return memtable.Open(e.fs, e.memtablesDir, activeWal, e.cfg.MaxRecordSize)
	}
	const firstWal = 1
	m, err := memtable.Create(e.fs, e.memtablesDir, firstWal, e.cfg.MaxRecordSize)
	if err != nil {
		return nil, err
	}
	if err := e.man.SetActiveWal(firstWal); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

// cleanOrphanSsts deletes any *.sst or *.tmp file under sstablesDir not
// referenced by the manifest's live SST set — per §4.7, orphan cleanup
// runs against sstables/ only, never memtables/.
func (e *Engine) cleanOrphanSsts(state *manifest.State) error {
	names, err := e.fs.ListDir(e.sstablesDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !strings.HasSuffix(name, ".sst") && !strings.HasSuffix(name, ".tmp") {
			continue
		}
		if strings.HasSuffix(name, ".sst") {
			if id, ok := sstIDFromName(name); ok {
				if _, live := state.Ssts[id]; live {
					continue
				}
			}
		}
		path := filepath.Join(e.sstablesDir, name)
		if err := e.fs.Remove(path); err != nil {
			return err
		}
		e.logger.Warnf("%sremoved orphan file %s", logging.NSRecovery, path)
	}
	return nil
}

func sstIDFromName(name string) (uint64, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".sst")
	const prefix = "sstable-"
	if !strings.HasPrefix(base, prefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(base, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func sortedIDs(m map[uint64]string) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
