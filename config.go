package aeternusdb

import (
	"fmt"

	"github.com/aeternusdb/aeternusdb/internal/compaction"
	"github.com/aeternusdb/aeternusdb/internal/logging"
)

// Config holds every tunable named in §6's config table plus the
// internal size-tiered compaction constants, following the teacher's
// top-level Options convention of one flat struct with documented
// defaults rather than a builder.
type Config struct {
	// WriteBufferSize is the memtable size threshold, in bytes, before
	// a write returns FlushRequired and the active memtable is frozen.
	WriteBufferSize uint64

	// MinCompactionThreshold is the minimum number of SSTs a bucket
	// needs before minor compaction triggers.
	MinCompactionThreshold int
	// MaxCompactionThreshold caps how many SSTs a single minor
	// compaction pass takes from its chosen bucket.
	MaxCompactionThreshold int
	// TombstoneCompactionRatio is the (tombstones / records) ratio an
	// SST must meet or exceed to become a tombstone-compaction
	// candidate.
	TombstoneCompactionRatio float64
	// ThreadPoolSize is the number of background workers draining the
	// flush/compaction task queue.
	ThreadPoolSize int

	// BucketLow and BucketHigh bound how far an SST's size may stray
	// from a bucket's running average before it starts a new bucket.
	BucketLow  float64
	BucketHigh float64
	// MinSSTableSize separates the dedicated "small" bucket from the
	// size-tiered ones.
	MinSSTableSize uint64
	// TombstoneCompactionInterval is the minimum SST age, in
	// nanoseconds, before it becomes eligible for tombstone
	// compaction.
	TombstoneCompactionInterval int64
	// TombstoneBloomFallback enables resolving a bloom "maybe present"
	// hit with an actual Get before keeping a tombstone.
	TombstoneBloomFallback bool
	// TombstoneRangeDrop enables resolving a bloom hit on a range
	// tombstone's start key with an actual bounded scan.
	TombstoneRangeDrop bool

	// MaxRecordSize caps a single WAL frame (memtable mutation or
	// manifest event).
	MaxRecordSize uint32

	// Logger receives the engine's structured log output. Defaults to
	// a WARN-level logger writing to stderr if nil.
	Logger logging.Logger
}

// DefaultConfig returns the documented §6 defaults.
func DefaultConfig() Config {
	return Config{
		WriteBufferSize:             64 * 1024,
		MinCompactionThreshold:      4,
		MaxCompactionThreshold:      32,
		TombstoneCompactionRatio:    0.3,
		ThreadPoolSize:              2,
		BucketLow:                   0.5,
		BucketHigh:                  1.5,
		MinSSTableSize:              50,
		TombstoneCompactionInterval: 0,
		TombstoneBloomFallback:      true,
		TombstoneRangeDrop:          true,
		MaxRecordSize:               4 << 20,
	}
}

// Validate rejects an out-of-range Config before Open touches the
// filesystem — invalid argument, no I/O, matching §7's taxonomy.
func (c Config) Validate() error {
	switch {
	case c.WriteBufferSize < 1024:
		return fmt.Errorf("%w: write buffer size must be >= 1024 bytes", ErrInvalidArgument)
	case c.MinCompactionThreshold < 2:
		return fmt.Errorf("%w: min compaction threshold must be >= 2", ErrInvalidArgument)
	case c.MaxCompactionThreshold < c.MinCompactionThreshold:
		return fmt.Errorf("%w: max compaction threshold must be >= min compaction threshold", ErrInvalidArgument)
	case c.TombstoneCompactionRatio <= 0 || c.TombstoneCompactionRatio > 1:
		return fmt.Errorf("%w: tombstone compaction ratio must be in (0, 1]", ErrInvalidArgument)
	case c.ThreadPoolSize < 1:
		return fmt.Errorf("%w: thread pool size must be >= 1", ErrInvalidArgument)
	case c.BucketLow <= 0 || c.BucketHigh < c.BucketLow:
		return fmt.Errorf("%w: bucket_low/bucket_high must satisfy 0 < bucket_low <= bucket_high", ErrInvalidArgument)
	case c.MaxRecordSize == 0:
		return fmt.Errorf("%w: max record size must be > 0", ErrInvalidArgument)
	}
	return nil
}

// compactionConfig projects the subset of Config that
// internal/compaction's planner and job functions consume.
func (c Config) compactionConfig() compaction.Config {
	return compaction.Config{
		MinSstableSize:              c.MinSSTableSize,
		BucketLow:                   c.BucketLow,
		BucketHigh:                  c.BucketHigh,
		MinCompactionThreshold:      c.MinCompactionThreshold,
		MaxCompactionThreshold:      c.MaxCompactionThreshold,
		TombstoneCompactionRatio:    c.TombstoneCompactionRatio,
		TombstoneCompactionInterval: c.TombstoneCompactionInterval,
		TombstoneBloomFallback:      c.TombstoneBloomFallback,
		TombstoneRangeDrop:          c.TombstoneRangeDrop,
	}
}
