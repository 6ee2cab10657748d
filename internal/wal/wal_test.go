package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

// stringCodec is a trivial length-free codec for string used only by tests.
type stringCodec struct{}

func (stringCodec) Encode(v string) []byte { return []byte(v) }
func (stringCodec) Decode(data []byte) (string, error) {
	return string(data), nil
}

func TestCreateAppendOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, uint64(1), w.Seq())

	records := []string{"alpha", "beta", "gamma"}
	for _, r := range records {
		require.NoError(t, w.Append(r))
	}
	require.NoError(t, w.Close())

	reopened, replayed, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, records, replayed)
	require.NoError(t, reopened.Close())
}

func TestOpenReplayContinuesAppending(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Append("first"))
	require.NoError(t, w.Close())

	reopened, replayed, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"first"}, replayed)

	require.NoError(t, reopened.Append("second"))
	require.NoError(t, reopened.Close())

	_, replayed2, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, replayed2)
}

func TestOpenTruncatesTrailingGarbageAfterCrash(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Append("whole"))
	require.NoError(t, w.Close())

	path := Path(dir, 1)
	info, err := os.Stat(path)
	require.NoError(t, err)
	fullSize := info.Size()

	// Simulate a crash mid-append: a second frame's length prefix was
	// written but its body never landed on disk.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0644)
	require.NoError(t, err)
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, 9999)
	_, err = f.Write(lenBuf)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	reopened, replayed, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"whole"}, replayed)
	require.NoError(t, reopened.Close())

	info2, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, fullSize, info2.Size())

	// The WAL must still be cleanly appendable after truncation.
	w2, replayed3, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"whole"}, replayed3)
	require.NoError(t, w2.Append("next"))
	require.NoError(t, w2.Close())

	_, replayed4, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"whole", "next"}, replayed4)
}

func TestOpenStopsAtChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Append("good"))
	require.NoError(t, w.Append("also-good"))
	require.NoError(t, w.Close())

	path := Path(dir, 1)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Corrupt one byte of the second record's trailing checksum.
	corruptOffset := len(raw) - 4
	raw[corruptOffset] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0644))

	_, replayed, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"good"}, replayed)
}

func TestOpenRejectsSequenceMismatch(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 3, 0, stringCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Rename so the filename claims seq 7 but the header still says 3.
	oldPath := Path(dir, 3)
	newPath := Path(dir, 7)
	require.NoError(t, os.Rename(oldPath, newPath))

	_, _, err = Open[string](fs, dir, 7, 0, stringCodec{})
	require.ErrorIs(t, err, ErrHeaderMismatch)
}

func TestAppendRejectsOversizedRecord(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 1, 4, stringCodec{})
	require.NoError(t, err)
	defer w.Close()

	err = w.Append("way too long for four bytes")
	require.ErrorIs(t, err, ErrRecordTooLarge)
}

func TestRotateNextOpensNewSequence(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Append("in-seq-1"))

	w2, err := w.RotateNext()
	require.NoError(t, err)
	require.Equal(t, uint64(2), w2.Seq())
	require.NoError(t, w2.Append("in-seq-2"))
	require.NoError(t, w2.Close())

	require.FileExists(t, filepath.Join(dir, "wal-000001.log"))
	require.FileExists(t, filepath.Join(dir, "wal-000002.log"))

	_, replayed1, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"in-seq-1"}, replayed1)

	_, replayed2, err := Open[string](fs, dir, 2, 0, stringCodec{})
	require.NoError(t, err)
	require.Equal(t, []string{"in-seq-2"}, replayed2)
}

func TestTruncateResetsToHeaderOnly(t *testing.T) {
	dir := t.TempDir()
	fs := vfs.Default()

	w, err := Create[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.NoError(t, w.Append("to-be-dropped"))
	require.NoError(t, w.Truncate())
	require.NoError(t, w.Close())

	_, replayed, err := Open[string](fs, dir, 1, 0, stringCodec{})
	require.NoError(t, err)
	require.Empty(t, replayed)
}
