// Package compaction plans and executes the engine's three compaction
// passes: size-tiered (minor), tombstone, and major. Every pass follows
// the same three-phase shape — plan under the engine's exclusive lock,
// execute with no lock held, install under the exclusive lock again —
// but Phase C (install) belongs to the engine, since it needs the
// engine's own live-SST bookkeeping and manifest handle. This package
// only covers Phase A (planning, pure functions over a snapshot of live
// SST metadata) and Phase B (execution: read inputs, merge, write the
// output SST).
package compaction

import (
	"bytes"

	"github.com/aeternusdb/aeternusdb/internal/filter"
)

// Config holds the tunables named in the engine's configuration.
type Config struct {
	MinSstableSize              uint64
	BucketLow                   float64
	BucketHigh                  float64
	MinCompactionThreshold      int
	MaxCompactionThreshold      int
	TombstoneCompactionRatio    float64
	TombstoneCompactionInterval int64
	TombstoneBloomFallback      bool
	TombstoneRangeDrop          bool
}

// DefaultConfig returns the engine's documented defaults.
func DefaultConfig() Config {
	return Config{
		MinSstableSize:              50,
		BucketLow:                   0.5,
		BucketHigh:                  1.5,
		MinCompactionThreshold:      4,
		MaxCompactionThreshold:      32,
		TombstoneCompactionRatio:    0.3,
		TombstoneCompactionInterval: 0,
		TombstoneBloomFallback:      true,
		TombstoneRangeDrop:          true,
	}
}

// SstMeta is the slice of an SST's properties-block metadata a planner
// needs without reading any of its data blocks. The engine builds one
// of these per live SST from its Reader at load time and keeps it
// resident for as long as the SST stays live.
type SstMeta struct {
	ID     uint64
	Path   string
	Size   uint64
	MinKey []byte
	MaxKey []byte

	NumEntries   uint64
	NumDeletions uint64
	NumRangeDels uint64
	MinLSN       uint64
	MaxLSN       uint64
	CreationTime int64

	Bloom *filter.Filter
}

// recordCount is the denominator used by the tombstone-ratio test:
// every record the SST holds, points and range tombstones alike.
func (m SstMeta) recordCount() uint64 {
	return m.NumEntries + m.NumRangeDels
}

func (m SstMeta) overlapsKeyRange(lo, hi []byte) bool {
	if hi != nil && m.MinKey != nil && bytes.Compare(m.MinKey, hi) > 0 {
		return false
	}
	if lo != nil && m.MaxKey != nil && bytes.Compare(m.MaxKey, lo) < 0 {
		return false
	}
	return true
}

// Kind identifies which of the three passes a Plan describes.
type Kind int

const (
	KindMinor Kind = iota + 1
	KindTombstone
	KindMajor
)

func (k Kind) String() string {
	switch k {
	case KindMinor:
		return "minor"
	case KindTombstone:
		return "tombstone"
	case KindMajor:
		return "major"
	default:
		return "unknown"
	}
}

// Plan is the output of Phase A: which SSTs participate, and — for the
// tombstone pass — which live SSTs do not but still need their bloom
// filters (and, if enabled, their data) consulted to decide whether a
// tombstone can be safely dropped.
type Plan struct {
	Kind             Kind
	Inputs           []SstMeta
	NonParticipating []SstMeta
}

// Result is the output of Phase B.
type Result struct {
	// Output describes the freshly written SST, or nil if nothing was
	// written (Skip or Dropped). Execute reopens the file it just wrote
	// to populate this, so the engine never has to re-derive a live
	// SST's metadata by any path other than reading its Reader.
	Output *SstMeta

	// Skip indicates the merge produced nothing worth writing and the
	// caller should simply remove the plan's inputs from the manifest
	// without adding a replacement.
	Skip bool

	// Dropped indicates a tombstone-compaction pass determined every
	// record in its single input would be dropped: the caller should
	// remove the SST outright rather than write an empty replacement.
	Dropped bool
}
