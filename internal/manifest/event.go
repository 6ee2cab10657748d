// Package manifest implements the engine's authoritative metadata: the
// active and frozen WAL ids, the live SST set, and the last-assigned
// LSN. Durability follows a WAL-of-events-plus-periodic-snapshot model:
// every state change is first appended to the manifest's own WAL as an
// idempotent event, then applied in memory; a checkpoint folds the WAL
// into a fresh snapshot file and truncates the WAL back to empty.
package manifest

import (
	"errors"

	"github.com/aeternusdb/aeternusdb/internal/encoding"
)

// ErrDecode is returned when an event or snapshot byte stream is
// malformed in a way the safety caps and tag check can detect.
var ErrDecode = errors.New("manifest: malformed record")

// EventKind tags the variant of an Event.
type EventKind uint8

const (
	EventVersion EventKind = iota + 1
	EventSetActiveWal
	EventAddFrozenWal
	EventRemoveFrozenWal
	EventAddSst
	EventRemoveSst
	EventUpdateLsn
	EventAllocateSstId
	EventCompaction
)

// SstEntry names one live SST by id and on-disk path.
type SstEntry struct {
	ID   uint64
	Path string
}

// Event is one durable, idempotent state transition recorded in the
// manifest WAL. Exactly the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Version uint64 // EventVersion
	WalID   uint64 // EventSetActiveWal, EventAddFrozenWal, EventRemoveFrozenWal
	Sst     SstEntry // EventAddSst
	SstID   uint64   // EventRemoveSst, EventAllocateSstId
	Lsn     uint64   // EventUpdateLsn

	CompactionAdded   []SstEntry // EventCompaction
	CompactionRemoved []uint64   // EventCompaction
}

// VersionEvent builds an EventVersion event.
func VersionEvent(v uint64) Event { return Event{Kind: EventVersion, Version: v} }

// SetActiveWalEvent builds an EventSetActiveWal event.
func SetActiveWalEvent(walID uint64) Event { return Event{Kind: EventSetActiveWal, WalID: walID} }

// AddFrozenWalEvent builds an EventAddFrozenWal event.
func AddFrozenWalEvent(walID uint64) Event { return Event{Kind: EventAddFrozenWal, WalID: walID} }

// RemoveFrozenWalEvent builds an EventRemoveFrozenWal event.
func RemoveFrozenWalEvent(walID uint64) Event {
	return Event{Kind: EventRemoveFrozenWal, WalID: walID}
}

// AddSstEvent builds an EventAddSst event.
func AddSstEvent(id uint64, path string) Event {
	return Event{Kind: EventAddSst, Sst: SstEntry{ID: id, Path: path}}
}

// RemoveSstEvent builds an EventRemoveSst event.
func RemoveSstEvent(id uint64) Event { return Event{Kind: EventRemoveSst, SstID: id} }

// UpdateLsnEvent builds an EventUpdateLsn event.
func UpdateLsnEvent(lsn uint64) Event { return Event{Kind: EventUpdateLsn, Lsn: lsn} }

// AllocateSstIdEvent builds an EventAllocateSstId event.
func AllocateSstIdEvent(id uint64) Event { return Event{Kind: EventAllocateSstId, SstID: id} }

// CompactionEvent builds an EventCompaction event recording an atomic
// add-and-remove of SSTs.
func CompactionEvent(added []SstEntry, removed []uint64) Event {
	return Event{Kind: EventCompaction, CompactionAdded: added, CompactionRemoved: removed}
}

// eventCodec implements wal.Codec[Event].
type eventCodec struct{}

func (eventCodec) Encode(e Event) []byte {
	w := encoding.NewWriter(64)
	w.PutUint8(uint8(e.Kind))
	switch e.Kind {
	case EventVersion:
		w.PutUint64(e.Version)
	case EventSetActiveWal, EventAddFrozenWal, EventRemoveFrozenWal:
		w.PutUint64(e.WalID)
	case EventAddSst:
		putSstEntry(w, e.Sst)
	case EventRemoveSst, EventAllocateSstId:
		w.PutUint64(e.SstID)
	case EventUpdateLsn:
		w.PutUint64(e.Lsn)
	case EventCompaction:
		w.PutVectorHeader(len(e.CompactionAdded))
		for _, s := range e.CompactionAdded {
			putSstEntry(w, s)
		}
		w.PutVectorHeader(len(e.CompactionRemoved))
		for _, id := range e.CompactionRemoved {
			w.PutUint64(id)
		}
	}
	return w.Bytes()
}

func (eventCodec) Decode(data []byte) (Event, error) {
	r := encoding.NewReader(data)
	kindByte, err := r.GetUint8()
	if err != nil {
		return Event{}, err
	}
	e := Event{Kind: EventKind(kindByte)}
	switch e.Kind {
	case EventVersion:
		e.Version, err = r.GetUint64()
	case EventSetActiveWal, EventAddFrozenWal, EventRemoveFrozenWal:
		e.WalID, err = r.GetUint64()
	case EventAddSst:
		e.Sst, err = getSstEntry(r)
	case EventRemoveSst, EventAllocateSstId:
		e.SstID, err = r.GetUint64()
	case EventUpdateLsn:
		e.Lsn, err = r.GetUint64()
	case EventCompaction:
		var n int
		if n, err = r.GetVectorHeader(); err == nil {
			e.CompactionAdded = make([]SstEntry, n)
			for i := 0; i < n && err == nil; i++ {
				e.CompactionAdded[i], err = getSstEntry(r)
			}
		}
		if err == nil {
			if n, err = r.GetVectorHeader(); err == nil {
				e.CompactionRemoved = make([]uint64, n)
				for i := 0; i < n && err == nil; i++ {
					e.CompactionRemoved[i], err = r.GetUint64()
				}
			}
		}
	default:
		return Event{}, ErrDecode
	}
	if err != nil {
		return Event{}, err
	}
	return e, nil
}

func putSstEntry(w *encoding.Writer, s SstEntry) {
	w.PutUint64(s.ID)
	w.PutString(s.Path)
}

func getSstEntry(r *encoding.Reader) (SstEntry, error) {
	id, err := r.GetUint64()
	if err != nil {
		return SstEntry{}, err
	}
	path, err := r.GetString()
	if err != nil {
		return SstEntry{}, err
	}
	return SstEntry{ID: id, Path: path}, nil
}
