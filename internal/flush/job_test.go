package flush

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aeternusdb/aeternusdb/internal/memtable"
	"github.com/aeternusdb/aeternusdb/internal/table"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

func newFrozenMemtable(t *testing.T) *memtable.Memtable {
	t.Helper()
	dir := t.TempDir()
	m, err := memtable.Create(vfs.Default(), dir, 1, 0)
	require.NoError(t, err)
	return m
}

func TestRunWritesNewestVersionPerKey(t *testing.T) {
	fs := vfs.Default()
	m := newFrozenMemtable(t)
	defer m.Close()

	require.NoError(t, m.Put([]byte("a"), []byte("old"), 1, 100))
	require.NoError(t, m.Put([]byte("a"), []byte("new"), 5, 200))
	require.NoError(t, m.Put([]byte("b"), []byte("only"), 2, 101))
	m.Freeze()

	path := filepath.Join(t.TempDir(), "000001.sst")
	job := NewJob(fs, m, 1, path, 1000)
	meta, err := job.Run()
	require.NoError(t, err)
	require.EqualValues(t, 2, meta.NumEntries)

	r, err := table.Open(fs, path)
	require.NoError(t, err)
	defer r.Close()

	value, lsn, tombstone, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.False(t, tombstone)
	require.Equal(t, []byte("new"), value)
	require.EqualValues(t, 5, lsn)
}

func TestRunPreservesDeleteAndRangeTombstone(t *testing.T) {
	fs := vfs.Default()
	m := newFrozenMemtable(t)
	defer m.Close()

	require.NoError(t, m.Put([]byte("a"), []byte("v"), 1, 100))
	require.NoError(t, m.Delete([]byte("a"), 2, 101))
	require.NoError(t, m.DeleteRange([]byte("c"), []byte("e"), 3, 102))
	m.Freeze()

	path := filepath.Join(t.TempDir(), "000002.sst")
	job := NewJob(fs, m, 2, path, 1000)
	meta, err := job.Run()
	require.NoError(t, err)
	require.EqualValues(t, 1, meta.NumRangeDels)

	r, err := table.Open(fs, path)
	require.NoError(t, err)
	defer r.Close()

	_, lsn, tombstone, found, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, tombstone)
	require.EqualValues(t, 2, lsn)
}

func TestRunOnEmptyMemtableReturnsErrEmpty(t *testing.T) {
	fs := vfs.Default()
	m := newFrozenMemtable(t)
	defer m.Close()
	m.Freeze()

	path := filepath.Join(t.TempDir(), "000003.sst")
	job := NewJob(fs, m, 3, path, 1000)
	meta, err := job.Run()
	require.ErrorIs(t, err, ErrEmpty)
	require.Nil(t, meta)
}
