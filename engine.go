package aeternusdb

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/aeternusdb/aeternusdb/internal/clock"
	"github.com/aeternusdb/aeternusdb/internal/compaction"
	"github.com/aeternusdb/aeternusdb/internal/iterator"
	"github.com/aeternusdb/aeternusdb/internal/logging"
	"github.com/aeternusdb/aeternusdb/internal/manifest"
	"github.com/aeternusdb/aeternusdb/internal/memtable"
	"github.com/aeternusdb/aeternusdb/internal/table"
	"github.com/aeternusdb/aeternusdb/internal/taskpump"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

const (
	manifestSubdir  = "manifest"
	memtablesSubdir = "memtables"
	sstablesSubdir  = "sstables"
	lockFileName    = "LOCK"
)

// sstHandle pairs a live SST's metadata with its open Reader, which
// serves both Get and Scan against that file.
type sstHandle struct {
	meta   compaction.SstMeta
	reader *table.Reader
}

// Engine is a single open AeternusDB database. It owns a manifest, one
// active memtable, an ordered list of frozen memtables awaiting
// flush, and the set of live SSTs, all behind a shared-exclusive
// lock: writes (Put/Delete/DeleteRange, and the install phase of
// flush/compaction) take it exclusive, reads (Get/Scan) take it
// shared.
type Engine struct {
	mu sync.RWMutex

	dir          string
	manifestDir  string
	memtablesDir string
	sstablesDir  string

	fs     vfs.FS
	cfg    Config
	logger logging.Logger
	clock  clock.Clock

	dirLock io.Closer

	man *manifest.Manifest

	active     *memtable.Memtable
	frozen     []*memtable.Memtable // oldest first, matching manifest's FrozenWals order
	nextWALSeq uint64

	ssts []*sstHandle // sorted by MaxLSN descending
	byID map[uint64]*sstHandle

	compacting map[uint64]bool

	lsn uint64 // last LSN assigned; allocateLSN increments before returning

	pump *taskpump.Pump

	// flushWG counts flushes queued by a rotation but not yet installed.
	// flushAllSync waits on it instead of re-running the flush itself,
	// so it never races the background worker over the same memtable.
	flushWG sync.WaitGroup

	closed bool
}

func (e *Engine) sstPath(id uint64) string {
	return filepath.Join(e.sstablesDir, fmt.Sprintf("sstable-%06d.sst", id))
}

// Open opens (or creates, if dir holds no existing database) an
// AeternusDB at dir with the given config, running the seven-step
// recovery protocol described in recovery.go.
func Open(dir string, cfg Config) (*Engine, error) {
	return openWithFS(dir, cfg, vfs.Default())
}

// openWithFS is Open with the filesystem swappable, so crash/durability
// tests can recover a database over a vfs.FaultInjectionFS instead of
// the real OS filesystem.
func openWithFS(dir string, cfg Config, fs vfs.FS) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := logging.OrDefault(cfg.Logger)

	e := &Engine{
		dir:          dir,
		manifestDir:  filepath.Join(dir, manifestSubdir),
		memtablesDir: filepath.Join(dir, memtablesSubdir),
		sstablesDir:  filepath.Join(dir, sstablesSubdir),
		fs:           fs,
		cfg:          cfg,
		logger:       logger,
		clock:        clock.Default,
		byID:         make(map[uint64]*sstHandle),
		compacting:   make(map[uint64]bool),
	}

	if err := e.recover(); err != nil {
		if e.dirLock != nil {
			_ = e.dirLock.Close()
		}
		return nil, err
	}

	e.pump = taskpump.New(cfg.ThreadPoolSize, logger)
	e.pump.Start()

	logger.Infof("%sopened %s, last_lsn=%d, live_ssts=%d", logging.NSDB, dir, e.lsn, len(e.ssts))
	return e, nil
}

// allocateLSN returns a fresh, strictly increasing LSN. Caller must
// hold e.mu for writing.
func (e *Engine) allocateLSN() uint64 {
	e.lsn++
	return e.lsn
}

// insertSstLocked adds h to e.ssts, keeping the slice sorted by
// MaxLSN descending via insertion sort — the live set rarely exceeds
// a few hundred entries, and an already-nearly-sorted slice (a single
// new entry, usually with the highest LSN of all) is insertion sort's
// best case. Caller must hold e.mu.
func (e *Engine) insertSstLocked(h *sstHandle) {
	e.ssts = append(e.ssts, h)
	e.byID[h.meta.ID] = h
	for i := len(e.ssts) - 1; i > 0 && e.ssts[i-1].meta.MaxLSN < e.ssts[i].meta.MaxLSN; i-- {
		e.ssts[i-1], e.ssts[i] = e.ssts[i], e.ssts[i-1]
	}
}

// removeSstLocked drops id from the live set, closing its reader.
// Caller must hold e.mu.
func (e *Engine) removeSstLocked(id uint64) {
	h, ok := e.byID[id]
	if !ok {
		return
	}
	delete(e.byID, id)
	for i, s := range e.ssts {
		if s.meta.ID == id {
			e.ssts = append(e.ssts[:i], e.ssts[i+1:]...)
			break
		}
	}
	_ = h.reader.Close()
}

// Get returns key's current value. A missing key is Result{Found:
// false} with a nil error — absence is not a failure (§7).
func (e *Engine) Get(key []byte) (Result, error) {
	if err := validateKey(key); err != nil {
		return Result{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return Result{}, ErrClosed
	}

	var bestValue []byte
	var bestLSN uint64
	var bestTombstone, found bool

	consider := func(value []byte, lsn uint64, tombstone, ok bool) {
		if ok && lsn > bestLSN {
			bestValue, bestLSN, bestTombstone, found = value, lsn, tombstone, true
		}
	}

	consider(e.active.Get(key))

	for i := len(e.frozen) - 1; i >= 0; i-- {
		consider(e.frozen[i].Get(key))
	}

	for _, h := range e.ssts {
		if found && h.meta.MaxLSN <= bestLSN {
			break
		}
		value, lsn, tombstone, ok, err := h.reader.Get(key)
		if err != nil {
			return Result{}, err
		}
		consider(value, lsn, tombstone, ok)
	}

	if !found || bestTombstone {
		return Result{}, nil
	}
	return Result{Value: bestValue, Found: true}, nil
}

// Scan returns every live (key, value) pair in [start, end) in
// strictly ascending key order.
func (e *Engine) Scan(start, end []byte) ([]Record, error) {
	if err := validateRange(start, end); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}
	if len(start) == len(end) && string(start) == string(end) {
		return nil, nil
	}

	sources, err := e.scanSourcesLocked(start, end)
	if err != nil {
		return nil, err
	}

	merged := iterator.NewMergingIterator(sources)
	vis := iterator.NewVisibleIterator(merged)
	defer func() { _ = vis.Close() }()

	var out []Record
	for vis.Valid() {
		v := vis.Entry()
		out = append(out, Record{Kind: RecordPut, Key: v.Key, Value: v.Value})
		vis.Next()
	}
	return out, nil
}

// scanSourcesLocked opens one iterator.Source per live layer, ordered
// newest-first so MergingIterator's tie-break (lower source index
// wins) prefers the newest layer without needing to compare LSNs that
// should never collide. Caller must hold e.mu for reading.
func (e *Engine) scanSourcesLocked(start, end []byte) ([]iterator.Source, error) {
	sources := []iterator.Source{e.active.NewScanSource(start, end)}
	for i := len(e.frozen) - 1; i >= 0; i-- {
		sources = append(sources, e.frozen[i].NewScanSource(start, end))
	}
	for _, h := range e.ssts {
		src, err := h.reader.NewScanSource(start, end)
		if err != nil {
			for _, s := range sources {
				_ = s.Close()
			}
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// MajorCompact flushes every memtable, then runs a single synchronous
// major compaction pass (§4.8.3) over the resulting live SST set.
func (e *Engine) MajorCompact() error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := e.flushAllSync(); err != nil {
		return err
	}
	return e.runMajorCompaction()
}

// Close flushes every memtable through the still-running task pump,
// then stops the pump, checkpoints the manifest, and releases the
// directory lock. Background tasks already queued keep running while
// the final flush is in progress; the pump is stopped only after it.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	// Flush while the pump is still running: flushAllSync's rotation
	// submits its flush task through the pump, and a pump already
	// stopped silently drops new submissions (see taskpump.Pump.Submit),
	// which would leave flushWG waiting forever. Only stop the pump once
	// everything it was asked to do has actually drained.
	if err := e.flushAllSync(); err != nil {
		return err
	}
	e.pump.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.man.Checkpoint(); err != nil {
		return err
	}
	if err := e.fs.SyncDir(e.manifestDir); err != nil {
		return err
	}
	if err := e.active.Close(); err != nil {
		return err
	}
	for _, fm := range e.frozen {
		_ = fm.Close()
	}
	for _, h := range e.ssts {
		_ = h.reader.Close()
	}
	if err := e.man.Close(); err != nil {
		return err
	}
	if e.dirLock != nil {
		return e.dirLock.Close()
	}
	return nil
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	return nil
}

// validateRange checks a Scan range: start == end is allowed (Scan
// treats it as an always-empty result, not an error).
func validateRange(start, end []byte) error {
	if len(start) == 0 || len(end) == 0 {
		return ErrEmptyRange
	}
	if string(start) > string(end) {
		return ErrInvalidRange
	}
	return nil
}

// validateDeleteRange checks a DeleteRange bound: unlike Scan, a
// zero-width or inverted range is never meaningful — §3 requires
// start < end — so start == end is rejected rather than treated as a
// no-op.
func validateDeleteRange(start, end []byte) error {
	if len(start) == 0 || len(end) == 0 {
		return ErrEmptyRange
	}
	if string(start) == string(end) {
		return ErrEmptyRange
	}
	if string(start) > string(end) {
		return ErrInvalidRange
	}
	return nil
}
