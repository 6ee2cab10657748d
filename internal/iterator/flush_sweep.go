package iterator

import "bytes"

// FlushSweep consumes a single (Key ASC, LSN DESC) raw stream and
// returns, per key, only its highest-LSN point entry (Put or Delete),
// plus every range tombstone untouched. This is the dedup rule a
// frozen memtable's flush iterator and a minor compaction pass share:
// neither may resolve a key to its final visible value the way
// VisibleIterator does, since an older point entry or a range
// tombstone may still be needed to suppress data living in a layer
// that is not part of this particular flush or compaction.
func FlushSweep(src Source) (points, tombstones []Entry) {
	var pendingKey []byte
	havePending := false

	for src.Valid() {
		e := src.Entry()
		if e.Kind == KindRangeDelete {
			tombstones = append(tombstones, e)
			src.Next()
			continue
		}
		if havePending && bytes.Equal(e.Key, pendingKey) {
			src.Next()
			continue
		}
		points = append(points, e)
		pendingKey = e.Key
		havePending = true
		src.Next()
	}
	return points, tombstones
}
