// Package iterator merges the raw scan streams produced by the active
// memtable, every frozen memtable, and every SST into one globally
// ordered stream, then applies the visibility rules that turn that
// raw stream into the key/value pairs a scan or get actually returns.
package iterator

// Kind tags what an Entry represents.
type Kind uint8

const (
	// KindPut is a point write: Value holds the written bytes.
	KindPut Kind = iota + 1
	// KindDelete is a point tombstone.
	KindDelete
	// KindRangeDelete covers [Key, End) as of LSN; Key holds the range's
	// start and doubles as the entry's ordering key.
	KindRangeDelete
)

// Entry is one raw record out of a memtable or SST scan stream: a put,
// a point delete, or a range delete, each carrying the LSN and
// timestamp it was written with. Streams are produced in (Key ASC,
// LSN DESC) order; no visibility filtering happens at this layer.
type Entry struct {
	Key   []byte
	End   []byte // only set for KindRangeDelete
	Value []byte // only set for KindPut
	LSN   uint64
	TS    int64
	Kind  Kind
}

// Source is one input to the merge: a scan over a single memtable or
// SST, already sorted (Key ASC, LSN DESC) and already restricted to
// the scan's bounds.
type Source interface {
	// Valid reports whether the source is positioned at an entry.
	Valid() bool
	// Entry returns the entry at the source's current position.
	// Only valid to call when Valid() is true.
	Entry() Entry
	// Next advances to the next entry.
	Next()
	// Close releases any resources the source holds (e.g. an open SST
	// block reader).
	Close() error
}
