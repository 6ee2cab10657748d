package aeternusdb

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := Open(t.TempDir(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestOpenCreatesDirectoryLayout(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, DefaultConfig())
	require.NoError(t, err)
	defer e.Close()

	require.True(t, e.fs.Exists(e.manifestDir))
	require.True(t, e.fs.Exists(e.memtablesDir))
	require.True(t, e.fs.Exists(e.sstablesDir))
}

func TestPutGetDelete(t *testing.T) {
	e := openTest(t, DefaultConfig())

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))

	res, err := e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, res.Found)
	require.Equal(t, []byte("1"), res.Value)

	require.NoError(t, e.Delete([]byte("a")))
	res, err = e.Get([]byte("a"))
	require.NoError(t, err)
	require.False(t, res.Found)

	res, err = e.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, res.Found)
}

func TestGetMissingKeyReturnsNotFoundNoError(t *testing.T) {
	e := openTest(t, DefaultConfig())
	res, err := e.Get([]byte("nope"))
	require.NoError(t, err)
	require.False(t, res.Found)
}

func TestPutOverwriteKeepsNewestValue(t *testing.T) {
	e := openTest(t, DefaultConfig())
	require.NoError(t, e.Put([]byte("k"), []byte("old")))
	require.NoError(t, e.Put([]byte("k"), []byte("new")))

	res, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("new"), res.Value)
}

func TestDeleteRangeSuppressesCoveredPuts(t *testing.T) {
	e := openTest(t, DefaultConfig())

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, e.Put([]byte(k), []byte(k+"v")))
	}
	require.NoError(t, e.DeleteRange([]byte("b"), []byte("d")))

	res, err := e.Get([]byte("b"))
	require.NoError(t, err)
	require.False(t, res.Found)
	res, err = e.Get([]byte("c"))
	require.NoError(t, err)
	require.False(t, res.Found)

	res, err = e.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, res.Found)
	res, err = e.Get([]byte("d"))
	require.NoError(t, err)
	require.True(t, res.Found)
}

func TestScanReturnsOrderedLiveEntries(t *testing.T) {
	e := openTest(t, DefaultConfig())

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Put([]byte(k), []byte(k+"v")))
	}
	require.NoError(t, e.Delete([]byte("b")))

	recs, err := e.Scan([]byte("a"), []byte("z"))
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, []byte("a"), recs[0].Key)
	require.Equal(t, []byte("c"), recs[1].Key)
	require.Equal(t, []byte("d"), recs[2].Key)
}

func TestValidationErrors(t *testing.T) {
	e := openTest(t, DefaultConfig())

	_, err := e.Get(nil)
	require.ErrorIs(t, err, ErrEmptyKey)

	require.ErrorIs(t, e.Put(nil, []byte("v")), ErrEmptyKey)
	require.ErrorIs(t, e.Delete(nil), ErrEmptyKey)

	require.ErrorIs(t, e.DeleteRange([]byte("a"), []byte("a")), ErrEmptyRange)
	require.ErrorIs(t, e.DeleteRange([]byte("b"), []byte("a")), ErrInvalidRange)

	_, err = e.Scan([]byte("a"), nil)
	require.ErrorIs(t, err, ErrEmptyRange)
}

func TestPutRejectsOversizedRecord(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRecordSize = 16
	e := openTest(t, cfg)

	err := e.Put([]byte("key"), make([]byte, 64))
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	e, err := Open(t.TempDir(), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Get([]byte("a"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, e.Put([]byte("a"), []byte("b")), ErrClosed)

	require.NoError(t, e.Close())
}

// smallBufferConfig forces a rotation (and therefore a background flush)
// after just a few writes.
func smallBufferConfig() Config {
	cfg := DefaultConfig()
	cfg.WriteBufferSize = 1024
	cfg.ThreadPoolSize = 1
	return cfg
}

func TestRotationAndFlushSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := smallBufferConfig()

	func() {
		e, err := Open(dir, cfg)
		require.NoError(t, err)
		defer e.Close()

		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("key-%05d", i)
			value := fmt.Sprintf("value-%05d-%s", i, string(make([]byte, 64)))
			require.NoError(t, e.Put([]byte(key), []byte(value)))
		}

		// flushAllSync drains whatever background flushes haven't yet
		// completed, so the SST count below isn't racing the task pump.
		require.NoError(t, e.flushAllSync())
		e.mu.RLock()
		liveSsts := len(e.ssts)
		e.mu.RUnlock()
		require.Greater(t, liveSsts, 0, "small write buffer should have triggered at least one flush")
	}()

	e, err := Open(dir, cfg)
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("key-%05d", i)
		res, err := e.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, res.Found, "key %s missing after reopen", key)
	}
}

func TestMajorCompactMergesLiveSsts(t *testing.T) {
	dir := t.TempDir()
	cfg := smallBufferConfig()
	// A high minor-compaction threshold keeps the background task pump
	// from merging these SSTs on its own, so MajorCompact is what's
	// actually under test.
	cfg.MinCompactionThreshold = 1000
	cfg.MaxCompactionThreshold = 1000

	e, err := Open(dir, cfg)
	require.NoError(t, err)
	defer e.Close()

	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("key-%05d", i%50)
		value := fmt.Sprintf("value-%05d-%d-%s", i%50, i, string(make([]byte, 64)))
		require.NoError(t, e.Put([]byte(key), []byte(value)))
	}

	require.NoError(t, e.flushAllSync())
	e.mu.RLock()
	before := len(e.ssts)
	e.mu.RUnlock()
	require.Greater(t, before, 1, "test setup should produce multiple SSTs to compact")

	require.NoError(t, e.MajorCompact())

	e.mu.RLock()
	after := len(e.ssts)
	e.mu.RUnlock()
	require.LessOrEqual(t, after, 1)

	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("key-%05d", i)
		res, err := e.Get([]byte(key))
		require.NoError(t, err)
		require.True(t, res.Found)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	e, err := Open(t.TempDir(), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}
