package rangedel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRangeTombstoneContainsAndCovers(t *testing.T) {
	tomb := New([]byte("b"), []byte("e"), 10, 1000)

	require.False(t, tomb.Contains([]byte("a")))
	require.True(t, tomb.Contains([]byte("b")))
	require.True(t, tomb.Contains([]byte("d")))
	require.False(t, tomb.Contains([]byte("e")))

	require.True(t, tomb.Covers([]byte("c"), 5))
	require.False(t, tomb.Covers([]byte("c"), 10))
	require.False(t, tomb.Covers([]byte("c"), 11))
	require.False(t, tomb.Covers([]byte("z"), 5))
}

func TestRangeTombstoneOverlapsAndEmpty(t *testing.T) {
	a := New([]byte("a"), []byte("m"), 1, 0)
	b := New([]byte("k"), []byte("z"), 2, 0)
	c := New([]byte("m"), []byte("z"), 3, 0)

	require.True(t, a.Overlaps(b))
	require.False(t, a.Overlaps(c))

	empty := New([]byte("x"), []byte("a"), 1, 0)
	require.True(t, empty.IsEmpty())
}

func TestFragmenterNonOverlappingPassthrough(t *testing.T) {
	f := NewFragmenter()
	f.Add([]byte("a"), []byte("b"), 1, 0)
	f.Add([]byte("c"), []byte("d"), 2, 0)

	frags := f.Finish()
	require.Equal(t, 2, frags.Len())
	require.True(t, frags.Covers([]byte("a"), 0))
	require.False(t, frags.Covers([]byte("b"), 0))
	require.True(t, frags.Covers([]byte("c"), 0))
}

func TestFragmenterOverlappingTakesMaxLSN(t *testing.T) {
	f := NewFragmenter()
	f.Add([]byte("a"), []byte("m"), 5, 0)
	f.Add([]byte("f"), []byte("z"), 9, 0)

	frags := f.Finish()

	// Three fragments expected: [a,f) at lsn 5, [f,m) at lsn 9 (max of
	// the two overlapping tombstones), [m,z) at lsn 9.
	require.Equal(t, 3, frags.Len())
	require.Equal(t, uint64(5), frags.MaxCoveringLSN([]byte("b")))
	require.Equal(t, uint64(9), frags.MaxCoveringLSN([]byte("g")))
	require.Equal(t, uint64(9), frags.MaxCoveringLSN([]byte("n")))
	require.Equal(t, uint64(0), frags.MaxCoveringLSN([]byte("zz")))
}

func TestFragmenterClearResets(t *testing.T) {
	f := NewFragmenter()
	f.Add([]byte("a"), []byte("b"), 1, 0)
	f.Clear()
	require.Equal(t, 0, f.Len())
	require.True(t, f.Finish().IsEmpty())
}

func TestAggregatorCombinesMultipleSources(t *testing.T) {
	agg := NewAggregator()

	memtableList := NewList()
	memtableList.AddRange([]byte("b"), []byte("e"), 10, 0)
	agg.AddRaw(memtableList)

	sstFrags := NewFragmenter()
	sstFrags.Add([]byte("d"), []byte("h"), 6, 0)
	agg.Add(sstFrags.Finish())

	require.False(t, agg.IsEmpty())
	require.True(t, agg.Suppresses([]byte("c"), 3))
	require.False(t, agg.Suppresses([]byte("c"), 10))
	require.True(t, agg.Suppresses([]byte("f"), 4))
	require.False(t, agg.Suppresses([]byte("z"), 0))
}

func TestAggregatorOverlapsRangeAndShouldDrop(t *testing.T) {
	agg := NewAggregator()
	f := NewFragmenter()
	f.Add([]byte("m"), []byte("p"), 20, 0)
	agg.Add(f.Finish())

	require.True(t, agg.OverlapsRange([]byte("a"), []byte("n")))
	require.False(t, agg.OverlapsRange([]byte("a"), []byte("m")))
	require.True(t, agg.ShouldDrop([]byte("n"), 5))
	require.False(t, agg.ShouldDrop([]byte("n"), 25))
}

func TestAggregatorEmptyHasNoEffect(t *testing.T) {
	agg := NewAggregator()
	require.True(t, agg.IsEmpty())
	require.Equal(t, 0, agg.NumTombstones())
	require.False(t, agg.Suppresses([]byte("anything"), 0))
}
