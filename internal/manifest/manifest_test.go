package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

func newManifestDir(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "manifest")
}

func TestCreateStartsEmpty(t *testing.T) {
	dir := newManifestDir(t)
	m, err := Create(vfs.Default(), dir)
	require.NoError(t, err)
	defer m.Close()

	s := m.State()
	require.Zero(t, s.Version)
	require.Zero(t, s.ActiveWal)
	require.Empty(t, s.FrozenWals)
	require.Empty(t, s.Ssts)
	require.Zero(t, s.NextSstId)
}

func TestEventsApplyToState(t *testing.T) {
	dir := newManifestDir(t)
	m, err := Create(vfs.Default(), dir)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.SetActiveWal(7))
	require.NoError(t, m.AddFrozenWal(3))
	require.NoError(t, m.AddFrozenWal(4))
	require.NoError(t, m.AddSst(1, "sstables/000001.sst"))
	require.NoError(t, m.UpdateLsn(42))

	s := m.State()
	require.EqualValues(t, 7, s.ActiveWal)
	require.ElementsMatch(t, []uint64{3, 4}, s.FrozenWals)
	require.Equal(t, "sstables/000001.sst", s.Ssts[1])
	require.EqualValues(t, 42, s.LastLsn)
}

func TestSetActiveWalRemovesFromFrozenList(t *testing.T) {
	dir := newManifestDir(t)
	m, err := Create(vfs.Default(), dir)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddFrozenWal(5))
	require.NoError(t, m.SetActiveWal(5))

	s := m.State()
	require.EqualValues(t, 5, s.ActiveWal)
	require.Empty(t, s.FrozenWals)
}

func TestUpdateLsnOnlyAdvances(t *testing.T) {
	dir := newManifestDir(t)
	m, err := Create(vfs.Default(), dir)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.UpdateLsn(10))
	require.NoError(t, m.UpdateLsn(3))
	require.EqualValues(t, 10, m.State().LastLsn)
}

func TestAllocateSstIdIsMonotonicAndSurvivesGaps(t *testing.T) {
	dir := newManifestDir(t)
	m, err := Create(vfs.Default(), dir)
	require.NoError(t, err)
	defer m.Close()

	id1, err := m.AllocateSstId()
	require.NoError(t, err)
	id2, err := m.AllocateSstId()
	require.NoError(t, err)
	require.EqualValues(t, 0, id1)
	require.EqualValues(t, 1, id2)
	require.EqualValues(t, 2, m.State().NextSstId)
}

func TestCompactionIsAtomic(t *testing.T) {
	dir := newManifestDir(t)
	m, err := Create(vfs.Default(), dir)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.AddSst(1, "a.sst"))
	require.NoError(t, m.AddSst(2, "b.sst"))

	require.NoError(t, m.Compaction(
		[]SstEntry{{ID: 3, Path: "c.sst"}},
		[]uint64{1, 2},
	))

	s := m.State()
	require.Equal(t, map[uint64]string{3: "c.sst"}, s.Ssts)
}

func TestReopenWithoutCheckpointReplaysEventLog(t *testing.T) {
	dir := newManifestDir(t)
	fs := vfs.Default()

	m, err := Create(fs, dir)
	require.NoError(t, err)
	require.NoError(t, m.SetActiveWal(9))
	require.NoError(t, m.AddSst(1, "a.sst"))
	require.NoError(t, m.UpdateLsn(100))
	require.NoError(t, m.Close())

	reopened, err := Open(fs, dir)
	require.NoError(t, err)
	defer reopened.Close()

	s := reopened.State()
	require.EqualValues(t, 9, s.ActiveWal)
	require.Equal(t, "a.sst", s.Ssts[1])
	require.EqualValues(t, 100, s.LastLsn)
}

func TestCheckpointTruncatesEventLogButPreservesState(t *testing.T) {
	dir := newManifestDir(t)
	fs := vfs.Default()

	m, err := Create(fs, dir)
	require.NoError(t, err)
	require.NoError(t, m.SetActiveWal(2))
	require.NoError(t, m.AddSst(1, "a.sst"))
	require.NoError(t, m.Checkpoint())
	require.False(t, m.Dirty())

	require.NoError(t, m.AddFrozenWal(5))
	require.NoError(t, m.Close())

	reopened, err := Open(fs, dir)
	require.NoError(t, err)
	defer reopened.Close()

	s := reopened.State()
	require.EqualValues(t, 2, s.ActiveWal)
	require.Equal(t, "a.sst", s.Ssts[1])
	require.ElementsMatch(t, []uint64{5}, s.FrozenWals)
}

func TestCheckpointRoundTripsAcrossMultipleGenerations(t *testing.T) {
	dir := newManifestDir(t)
	fs := vfs.Default()

	m, err := Create(fs, dir)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, m.AddSst(i, filepath.Join("sstables", "x.sst")))
		require.NoError(t, m.Checkpoint())
	}
	require.NoError(t, m.Close())

	reopened, err := Open(fs, dir)
	require.NoError(t, err)
	defer reopened.Close()

	s := reopened.State()
	require.Len(t, s.Ssts, 3)
}

func TestBadSnapshotChecksumAbortsRecovery(t *testing.T) {
	dir := newManifestDir(t)
	fs := vfs.Default()

	m, err := Create(fs, dir)
	require.NoError(t, err)
	require.NoError(t, m.AddSst(1, "a.sst"))
	require.NoError(t, m.Checkpoint())
	require.NoError(t, m.Close())

	// Corrupt the snapshot file the CURRENT pointer refers to.
	snapPath := filepath.Join(dir, snapshotFileName(2))
	f, err := fs.Open(snapPath)
	require.NoError(t, err)
	data := make([]byte, 4096)
	n, _ := f.Read(data)
	_ = f.Close()
	data = data[:n]
	data[len(data)-1] ^= 0xFF

	wf, err := fs.Create(snapPath)
	require.NoError(t, err)
	_, err = wf.Write(data)
	require.NoError(t, err)
	require.NoError(t, wf.Sync())
	require.NoError(t, wf.Close())

	_, err = Open(fs, dir)
	require.ErrorIs(t, err, ErrBadSnapshotChecksum)
}
