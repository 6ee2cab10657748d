package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aeternusdb/aeternusdb"
)

func TestScanValidDB(t *testing.T) {
	dir := t.TempDir()
	seedDB(t, dir, 10)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir, "scan", "--from", "key00000", "--to", "key99999"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.Contains(t, stdout.String(), "key00000")
	require.Contains(t, stdout.String(), "(10 entries scanned)")
}

func TestScanSurfacesCorruption(t *testing.T) {
	dir := t.TempDir()
	seedDB(t, dir, 100)
	corruptAnSstable(t, dir)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir, "scan", "--from", "key00000", "--to", "key99999"}, &stdout, &stderr)
	require.NotEqual(t, 0, code, "scan over a corrupt sstable must fail, stdout: %s", stdout.String())
	require.Contains(t, stderr.String(), "error:")
}

func TestGetPutDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir, "put", "k", "v1"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.Contains(t, stdout.String(), "OK")

	stdout.Reset()
	code = run([]string{"--db", dir, "get", "k"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.Equal(t, "v1\n", stdout.String())

	stdout.Reset()
	code = run([]string{"--db", dir, "delete", "k"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	stdout.Reset()
	stderr.Reset()
	code = run([]string{"--db", dir, "get", "k"}, &stdout, &stderr)
	require.NotEqual(t, 0, code)
	require.Contains(t, stderr.String(), "key not found")
}

func TestHexRoundTrip(t *testing.T) {
	dir := t.TempDir()

	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir, "put", "0x6b", "0x7631"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	stdout.Reset()
	code = run([]string{"--db", dir, "--hex", "get", "0x6b"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.Equal(t, "7631\n", stdout.String())
}

func TestDeleteRangeRemovesKeys(t *testing.T) {
	dir := t.TempDir()
	seedDB(t, dir, 10)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir, "delete_range", "key00002", "key00005"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())

	stdout.Reset()
	code = run([]string{"--db", dir, "scan", "--from", "key00000", "--to", "key99999"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.NotContains(t, stdout.String(), "key00003")
	require.Contains(t, stdout.String(), "key00005")
}

func TestCompactRunsWithoutError(t *testing.T) {
	dir := t.TempDir()
	seedDB(t, dir, 10)

	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir, "compact"}, &stdout, &stderr)
	require.Equal(t, 0, code, "stderr: %s", stderr.String())
	require.Contains(t, stdout.String(), "OK")
}

func TestMissingDbFlagFails(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"get", "k"}, &stdout, &stderr)
	require.NotEqual(t, 0, code)
	require.Contains(t, stderr.String(), "--db is required")
}

func TestNoCommandPrintsUsage(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir}, &stdout, &stderr)
	require.Equal(t, 0, code)
	require.Contains(t, stdout.String(), "Usage: aeternusctl")
}

func TestScanRequiresFromAndTo(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := run([]string{"--db", dir, "scan"}, &stdout, &stderr)
	require.NotEqual(t, 0, code)
	require.Contains(t, stderr.String(), "usage:")
}

// seedDB opens a fresh database at dir, writes n sequential key/value
// pairs, runs a synchronous major compaction so the data lands in an
// sstable on disk, and closes it.
func seedDB(t *testing.T, dir string, n int) {
	t.Helper()
	db, err := aeternusdb.Open(dir, aeternusdb.DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key%05d", i)
		value := fmt.Sprintf("value%05d", i)
		require.NoError(t, db.Put([]byte(key), []byte(value)))
	}
	require.NoError(t, db.MajorCompact())
	require.NoError(t, db.Close())
}

// corruptAnSstable flips bits in the first sstable it finds under
// dir/sstables, forcing checksum verification to fail on the next read.
func corruptAnSstable(t *testing.T, dir string) {
	t.Helper()
	sstDir := filepath.Join(dir, "sstables")
	entries, err := os.ReadDir(sstDir)
	require.NoError(t, err)

	var sstPath string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".sst") {
			sstPath = filepath.Join(sstDir, entry.Name())
			break
		}
	}
	require.NotEmpty(t, sstPath, "no sstable file found after compaction")

	data, err := os.ReadFile(sstPath)
	require.NoError(t, err)

	dataRegion := len(data) / 2
	require.Greater(t, dataRegion, 100)
	for i := 50; i < dataRegion && i < len(data)-100; i += 50 {
		data[i] ^= 0xFF
	}
	require.NoError(t, os.WriteFile(sstPath, data, 0644))
}
