package iterator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// sliceSource is a minimal Source backed by a fixed slice, used to
// feed MergingIterator and VisibleIterator fixtures in tests.
type sliceSource struct {
	entries []Entry
	pos     int
}

func newSliceSource(entries ...Entry) *sliceSource { return &sliceSource{entries: entries} }

func (s *sliceSource) Valid() bool  { return s.pos < len(s.entries) }
func (s *sliceSource) Entry() Entry { return s.entries[s.pos] }
func (s *sliceSource) Next()        { s.pos++ }
func (s *sliceSource) Close() error { return nil }

func put(key, value string, lsn uint64) Entry {
	return Entry{Key: []byte(key), Value: []byte(value), LSN: lsn, Kind: KindPut}
}

func del(key string, lsn uint64) Entry {
	return Entry{Key: []byte(key), LSN: lsn, Kind: KindDelete}
}

func rangeDel(start, end string, lsn uint64) Entry {
	return Entry{Key: []byte(start), End: []byte(end), LSN: lsn, Kind: KindRangeDelete}
}

func TestMergingIteratorOrdersByKeyThenLSNDesc(t *testing.T) {
	a := newSliceSource(put("a", "a1", 1), put("c", "c1", 2))
	b := newSliceSource(put("a", "a2", 5), put("b", "b1", 3))

	m := NewMergingIterator([]Source{a, b})
	var keys []string
	var lsns []uint64
	for m.Valid() {
		e := m.Entry()
		keys = append(keys, string(e.Key))
		lsns = append(lsns, e.LSN)
		m.Next()
	}

	require.Equal(t, []string{"a", "a", "b", "c"}, keys)
	require.Equal(t, []uint64{5, 1, 3, 2}, lsns)
}

func TestMergingIteratorTieBreaksBySourceIndex(t *testing.T) {
	// Same LSN across two sources should never happen in practice
	// (LSNs are globally unique), but the tie-break must still be
	// deterministic: lower source index (the newer source) wins.
	newer := newSliceSource(put("a", "newer", 7))
	older := newSliceSource(put("a", "older", 7))

	m := NewMergingIterator([]Source{newer, older})
	require.True(t, m.Valid())
	require.Equal(t, "newer", string(m.Entry().Value))
}

func TestVisibleIteratorNewestPutWins(t *testing.T) {
	src := newSliceSource(put("a", "v2", 5), put("a", "v1", 1), put("b", "only", 2))
	vi := NewVisibleIterator(src)

	require.True(t, vi.Valid())
	require.Equal(t, "v2", string(vi.Entry().Value))
	vi.Next()
	require.True(t, vi.Valid())
	require.Equal(t, "b", string(vi.Entry().Key))
	vi.Next()
	require.False(t, vi.Valid())
}

func TestVisibleIteratorHidesWinningDelete(t *testing.T) {
	src := newSliceSource(del("a", 5), put("a", "stale", 1), put("b", "v", 2))
	vi := NewVisibleIterator(src)

	require.True(t, vi.Valid())
	require.Equal(t, "b", string(vi.Entry().Key))
	vi.Next()
	require.False(t, vi.Valid())
}

func TestVisibleIteratorRangeTombstoneSuppressesOlderPuts(t *testing.T) {
	src := newSliceSource(
		rangeDel("a", "z", 10),
		put("b", "old", 3),
		put("c", "old", 4),
	)
	vi := NewVisibleIterator(src)
	require.False(t, vi.Valid())
}

func TestVisibleIteratorPointNewerThanRangeTombstoneWins(t *testing.T) {
	src := newSliceSource(
		rangeDel("a", "z", 5),
		put("c", "fresh", 20),
	)
	vi := NewVisibleIterator(src)
	require.True(t, vi.Valid())
	require.Equal(t, "c", string(vi.Entry().Key))
	require.Equal(t, "fresh", string(vi.Entry().Value))
	require.Equal(t, uint64(20), vi.Entry().LSN)
}

func TestVisibleIteratorRangeTombstoneAtSameKeyAsStaleEntry(t *testing.T) {
	// "b" has a range tombstone at lsn 9 and a stale put at lsn 2 for
	// the same key; the tombstone must still be absorbed even though
	// it's encountered while skipping "b"'s stale versions.
	src := newSliceSource(
		put("b", "newest", 15),
		rangeDel("b", "d", 9),
		put("b", "stale", 2),
		put("c", "v", 1),
	)
	vi := NewVisibleIterator(src)
	require.True(t, vi.Valid())
	require.Equal(t, "b", string(vi.Entry().Key))
	require.Equal(t, "newest", string(vi.Entry().Value))
	vi.Next()
	require.False(t, vi.Valid()) // "c" is suppressed by the lsn-9 tombstone covering [b,d)
}
