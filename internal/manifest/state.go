package manifest

import "github.com/aeternusdb/aeternusdb/internal/encoding"

// State is the manifest's in-memory view: every fact an engine needs
// to reopen without replaying a single WAL or SST from scratch.
type State struct {
	Version    uint64
	ActiveWal  uint64
	FrozenWals []uint64
	Ssts       map[uint64]string // sst id -> path
	LastLsn    uint64
	NextSstId  uint64
}

// newState returns an empty State with its map initialized.
func newState() *State {
	return &State{Ssts: make(map[uint64]string)}
}

// Clone returns a deep copy, used by Manifest.State so callers never
// alias the live state's slices or map.
func (s *State) Clone() *State {
	out := &State{
		Version:   s.Version,
		ActiveWal: s.ActiveWal,
		LastLsn:   s.LastLsn,
		NextSstId: s.NextSstId,
		Ssts:      make(map[uint64]string, len(s.Ssts)),
	}
	out.FrozenWals = append(out.FrozenWals, s.FrozenWals...)
	for id, path := range s.Ssts {
		out.Ssts[id] = path
	}
	return out
}

// Apply applies one event to the state. Every variant is idempotent:
// replaying the same event twice (as may happen after a crash mid
// checkpoint) leaves the state unchanged on the second application.
func (s *State) Apply(e Event) {
	switch e.Kind {
	case EventVersion:
		s.Version = e.Version

	case EventSetActiveWal:
		s.ActiveWal = e.WalID
		s.FrozenWals = removeWalID(s.FrozenWals, e.WalID)

	case EventAddFrozenWal:
		if !containsWalID(s.FrozenWals, e.WalID) {
			s.FrozenWals = append(s.FrozenWals, e.WalID)
		}

	case EventRemoveFrozenWal:
		s.FrozenWals = removeWalID(s.FrozenWals, e.WalID)

	case EventAddSst:
		if _, ok := s.Ssts[e.Sst.ID]; !ok {
			s.Ssts[e.Sst.ID] = e.Sst.Path
		}

	case EventRemoveSst:
		delete(s.Ssts, e.SstID)

	case EventUpdateLsn:
		if e.Lsn > s.LastLsn {
			s.LastLsn = e.Lsn
		}

	case EventAllocateSstId:
		if e.SstID >= s.NextSstId {
			s.NextSstId = e.SstID + 1
		}

	case EventCompaction:
		for _, sst := range e.CompactionAdded {
			if _, ok := s.Ssts[sst.ID]; !ok {
				s.Ssts[sst.ID] = sst.Path
			}
		}
		for _, id := range e.CompactionRemoved {
			delete(s.Ssts, id)
		}
	}
}

func containsWalID(ids []uint64, id uint64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func removeWalID(ids []uint64, id uint64) []uint64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// encodeState serializes s deterministically: scalar fields, the
// frozen-WAL vector, then the SST map sorted by id so two semantically
// equal states always encode to identical bytes.
func encodeState(s *State) []byte {
	w := encoding.NewWriter(128)
	w.PutUint64(s.Version)
	w.PutUint64(s.ActiveWal)
	w.PutUint64(s.LastLsn)
	w.PutUint64(s.NextSstId)

	w.PutVectorHeader(len(s.FrozenWals))
	for _, id := range s.FrozenWals {
		w.PutUint64(id)
	}

	ids := sortedSstIds(s.Ssts)
	w.PutVectorHeader(len(ids))
	for _, id := range ids {
		w.PutUint64(id)
		w.PutString(s.Ssts[id])
	}

	return w.Bytes()
}

func decodeState(data []byte) (*State, error) {
	r := encoding.NewReader(data)
	s := newState()

	var err error
	if s.Version, err = r.GetUint64(); err != nil {
		return nil, err
	}
	if s.ActiveWal, err = r.GetUint64(); err != nil {
		return nil, err
	}
	if s.LastLsn, err = r.GetUint64(); err != nil {
		return nil, err
	}
	if s.NextSstId, err = r.GetUint64(); err != nil {
		return nil, err
	}

	n, err := r.GetVectorHeader()
	if err != nil {
		return nil, err
	}
	s.FrozenWals = make([]uint64, n)
	for i := 0; i < n; i++ {
		if s.FrozenWals[i], err = r.GetUint64(); err != nil {
			return nil, err
		}
	}

	n, err = r.GetVectorHeader()
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		id, err := r.GetUint64()
		if err != nil {
			return nil, err
		}
		path, err := r.GetString()
		if err != nil {
			return nil, err
		}
		s.Ssts[id] = path
	}

	return s, nil
}

func sortedSstIds(m map[uint64]string) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	// Insertion sort: manifests hold at most a few hundred live SSTs,
	// and a checkpoint already pays for a full state serialization.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
