package manifest

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/aeternusdb/aeternusdb/internal/testutil"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
	"github.com/aeternusdb/aeternusdb/internal/wal"
)

const (
	currentFileName = "CURRENT"
	eventWalSeq     = uint64(1)
	// maxEventRecordSize caps a single manifest event; the largest
	// variant (Compaction) is bounded by how many SSTs one compaction
	// pass can touch, far below this.
	maxEventRecordSize = 1 << 20
)

// Manifest is the engine's durable metadata store: an event WAL plus
// periodic snapshot checkpoints of the State it folds to.
type Manifest struct {
	fs  vfs.FS
	dir string

	mu              sync.Mutex
	state           *State
	log             *wal.WAL[Event]
	dirty           bool
	nextSnapshotSeq uint64
}

func snapshotFileName(seq uint64) string { return fmt.Sprintf("MANIFEST-%06d", seq) }

// Create initializes a fresh manifest directory: an empty event WAL
// and an initial zero-value snapshot, and writes CURRENT to point at
// it.
func Create(fsys vfs.FS, dir string) (*Manifest, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	log, err := wal.Create[Event](fsys, dir, eventWalSeq, maxEventRecordSize, eventCodec{})
	if err != nil {
		return nil, err
	}

	m := &Manifest{fs: fsys, dir: dir, state: newState(), log: log}
	if err := m.writeSnapshot(1); err != nil {
		_ = log.Close()
		return nil, err
	}
	return m, nil
}

// Open recovers a manifest directory: load the latest valid snapshot
// (if CURRENT exists), then replay the event WAL, applying every
// event on top of it. A snapshot with a bad checksum aborts recovery
// rather than being silently skipped; a half-written .tmp snapshot is
// never consulted, since only a renamed, CURRENT-referenced snapshot
// is ever considered valid.
func Open(fsys vfs.FS, dir string) (*Manifest, error) {
	state := newState()
	nextSnapshotSeq := uint64(1)

	currentPath := filepath.Join(dir, currentFileName)
	if fsys.Exists(currentPath) {
		name, err := readCurrentPointer(fsys, currentPath)
		if err != nil {
			return nil, err
		}
		data, err := readFile(fsys, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		_, loaded, err := decodeSnapshot(data)
		if err != nil {
			return nil, err
		}
		state = loaded
		var seq uint64
		if _, err := fmt.Sscanf(name, "MANIFEST-%d", &seq); err == nil {
			nextSnapshotSeq = seq + 1
		}
	}

	log, events, err := wal.Open[Event](fsys, dir, eventWalSeq, maxEventRecordSize, eventCodec{})
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		state.Apply(e)
	}

	m := &Manifest{
		fs:    fsys,
		dir:   dir,
		state: state,
		log:   log,
		dirty: len(events) > 0,
	}
	m.nextSnapshotSeq = nextSnapshotSeq
	return m, nil
}

func readCurrentPointer(fsys vfs.FS, path string) (string, error) {
	data, err := readFile(fsys, path)
	if err != nil {
		return "", err
	}
	name := string(data)
	for len(name) > 0 && (name[len(name)-1] == '\n' || name[len(name)-1] == '\r') {
		name = name[:len(name)-1]
	}
	return name, nil
}

func readFile(fsys vfs.FS, path string) ([]byte, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return io.ReadAll(f)
}

// append builds and durably appends one event, then applies it to the
// in-memory state under the manifest mutex. Matches the mutation
// protocol: WAL first, in-memory state second.
func (m *Manifest) append(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.log.Append(e); err != nil {
		return err
	}
	m.state.Apply(e)
	m.dirty = true
	return nil
}

// SetVersion records the engine's on-disk format version.
func (m *Manifest) SetVersion(v uint64) error { return m.append(VersionEvent(v)) }

// SetActiveWal records the id of the active memtable's WAL.
func (m *Manifest) SetActiveWal(walID uint64) error { return m.append(SetActiveWalEvent(walID)) }

// AddFrozenWal records a WAL id moving to the frozen list.
func (m *Manifest) AddFrozenWal(walID uint64) error { return m.append(AddFrozenWalEvent(walID)) }

// RemoveFrozenWal removes a WAL id from the frozen list, once its
// memtable has been durably flushed.
func (m *Manifest) RemoveFrozenWal(walID uint64) error {
	return m.append(RemoveFrozenWalEvent(walID))
}

// AddSst records a newly live SST.
func (m *Manifest) AddSst(id uint64, path string) error { return m.append(AddSstEvent(id, path)) }

// RemoveSst removes an SST from the live set.
func (m *Manifest) RemoveSst(id uint64) error { return m.append(RemoveSstEvent(id)) }

// UpdateLsn advances last_lsn, a no-op if lsn does not exceed it.
func (m *Manifest) UpdateLsn(lsn uint64) error { return m.append(UpdateLsnEvent(lsn)) }

// Compaction atomically records a compaction pass's added and removed
// SSTs in a single WAL frame.
func (m *Manifest) Compaction(added []SstEntry, removed []uint64) error {
	return m.append(CompactionEvent(added, removed))
}

// AllocateSstId allocates and durably records a fresh SST id. Safe
// across crashes: an id that is allocated but never published via
// AddSst or Compaction is simply skipped on the next open, since
// NextSstId only ever advances.
func (m *Manifest) AllocateSstId() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.state.NextSstId
	if err := m.log.Append(AllocateSstIdEvent(id)); err != nil {
		return 0, err
	}
	m.state.Apply(AllocateSstIdEvent(id))
	m.dirty = true
	return id, nil
}

// State returns a snapshot copy of the manifest's current state. Safe
// to call concurrently with mutations; the copy never aliases
// internal slices or maps the caller could race on.
func (m *Manifest) State() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Dirty reports whether any event has been appended since the last
// checkpoint.
func (m *Manifest) Dirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// Checkpoint folds the current state into a fresh snapshot file,
// written via the standard tmp-write, fsync, rename, fsync-parent-dir
// sequence used by every durable file swap in the engine, then
// truncates the event WAL back to header-only and clears the dirty
// flag. The CURRENT pointer is only updated after the snapshot itself
// is fsynced, so a crash mid-checkpoint leaves the previous snapshot
// (if any) as the one still considered valid.
func (m *Manifest) Checkpoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.nextSnapshotSeq
	if err := m.writeSnapshotLocked(seq); err != nil {
		return err
	}
	m.nextSnapshotSeq = seq + 1

	if err := m.log.Truncate(); err != nil {
		return err
	}
	m.dirty = false
	return nil
}

// writeSnapshot is the Create-time helper; it takes the lock itself
// since no caller holds it yet.
func (m *Manifest) writeSnapshot(seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeSnapshotLocked(seq); err != nil {
		return err
	}
	m.nextSnapshotSeq = seq + 1
	return nil
}

func (m *Manifest) writeSnapshotLocked(seq uint64) error {
	name := snapshotFileName(seq)
	path := filepath.Join(m.dir, name)
	tmpPath := path + ".tmp"

	payload := encodeSnapshot(m.state.LastLsn, m.state)

	testutil.MaybeKill(testutil.KPManifestWrite0)
	f, err := m.fs.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		_ = f.Close()
		return err
	}
	testutil.MaybeKill(testutil.KPManifestSync0)
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	testutil.MaybeKill(testutil.KPManifestSync1)
	if err := f.Close(); err != nil {
		return err
	}

	if err := m.fs.Rename(tmpPath, path); err != nil {
		return err
	}
	if err := m.fs.SyncDir(m.dir); err != nil {
		return err
	}

	if err := m.writeCurrentPointer(name); err != nil {
		return err
	}
	return m.fs.SyncDir(m.dir)
}

func (m *Manifest) writeCurrentPointer(snapshotName string) error {
	tmpPath := filepath.Join(m.dir, currentFileName+".tmp")
	finalPath := filepath.Join(m.dir, currentFileName)

	f, err := m.fs.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(snapshotName + "\n")); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return m.fs.Rename(tmpPath, finalPath)
}

// Close closes the manifest's event WAL handle.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log.Close()
}
