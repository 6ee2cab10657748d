package aeternusdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

// TestSyncedWriteSurvivesCrash opens the engine over a FaultInjectionFS
// in its default (honest) mode: every WAL fsync genuinely advances the
// file's synced position, so a simulated crash (DropUnsyncedData) must
// drop nothing and the write must still be there on reopen.
func TestSyncedWriteSurvivesCrash(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.NewFaultInjectionFS(vfs.Default())

	e, err := openWithFS(dir, DefaultConfig(), fs)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))

	require.NoError(t, fs.DropUnsyncedData())

	res, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("v"), res.Value)

	reopened, err := openWithFS(dir, DefaultConfig(), vfs.NewFaultInjectionFS(vfs.Default()))
	require.NoError(t, err)
	defer reopened.Close()

	res, err = reopened.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("v"), res.Value)
}

// TestLyingFsyncLosesWriteOnCrash puts fault injection into "file sync
// lie mode" for WAL files: Sync reports success without ever advancing
// the tracked synced position. A crash (DropUnsyncedData) then truncates
// the WAL back to its last honestly-synced byte, and the record that was
// never durable must be gone on recovery — the engine never promised
// durability it never actually achieved, since the lie is the
// filesystem's, not the engine's.
func TestLyingFsyncLosesWriteOnCrash(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.NewFaultInjectionFS(vfs.Default())

	e, err := openWithFS(dir, DefaultConfig(), fs)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("durable"), []byte("1")))

	fs.SetFileSyncLieMode(true, ".log")
	require.NoError(t, e.Put([]byte("lost"), []byte("2")))
	fs.SetFileSyncLieMode(false, "")

	require.NoError(t, fs.DropUnsyncedData())

	reopened, err := openWithFS(dir, DefaultConfig(), vfs.NewFaultInjectionFS(vfs.Default()))
	require.NoError(t, err)
	defer reopened.Close()

	res, err := reopened.Get([]byte("durable"))
	require.NoError(t, err)
	require.True(t, res.Found)

	res, err = reopened.Get([]byte("lost"))
	require.NoError(t, err)
	require.False(t, res.Found)
}

// TestRenameWithoutDirSyncRevertsOnCrash exercises the fault-injection
// layer's directory-entry durability tracking directly: a rename that
// never gets its parent directory fsynced is reverted by
// RevertUnsyncedRenames, the same anomaly SyncDir lie mode models for
// the manifest's CURRENT-pointer swap and every SST's tmp-to-final
// rename.
func TestRenameWithoutDirSyncRevertsOnCrash(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.NewFaultInjectionFS(vfs.Default())
	require.NoError(t, fs.MkdirAll(dir, 0o755))

	oldPath := dir + "/a.tmp"
	newPath := dir + "/a"

	f, err := fs.Create(oldPath)
	require.NoError(t, err)
	_, err = f.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	require.NoError(t, fs.Rename(oldPath, newPath))
	require.True(t, fs.HasPendingRenames())

	require.NoError(t, fs.RevertUnsyncedRenames())
	require.False(t, fs.HasPendingRenames())
	require.True(t, fs.Exists(oldPath))
	require.False(t, fs.Exists(newPath))
}
