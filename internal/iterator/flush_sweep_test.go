package iterator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlushSweepKeepsHighestLsnPointOnly(t *testing.T) {
	src := newSliceSource(put("a", "new", 5), put("a", "old", 1), put("b", "only", 2))
	points, tombstones := FlushSweep(src)

	require.Empty(t, tombstones)
	require.Len(t, points, 2)
	require.Equal(t, "new", string(points[0].Value))
	require.Equal(t, "b", string(points[1].Key))
}

func TestFlushSweepPreservesDeletesAndRangeTombstones(t *testing.T) {
	src := newSliceSource(
		del("a", 3),
		rangeDel("b", "d", 4),
		put("e", "v", 1),
	)
	points, tombstones := FlushSweep(src)

	require.Len(t, points, 2)
	require.Equal(t, KindDelete, points[0].Kind)
	require.Equal(t, "e", string(points[1].Key))

	require.Len(t, tombstones, 1)
	require.Equal(t, "b", string(tombstones[0].Key))
	require.Equal(t, "d", string(tombstones[0].End))
}

func TestFlushSweepDropsSupersededDeleteAsWellAsPut(t *testing.T) {
	src := newSliceSource(del("a", 9), put("a", "stale", 2))
	points, _ := FlushSweep(src)

	require.Len(t, points, 1)
	require.Equal(t, KindDelete, points[0].Kind)
	require.EqualValues(t, 9, points[0].LSN)
}
