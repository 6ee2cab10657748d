// Package filter implements the per-SST Bloom filter used to skip table
// reads for keys that are provably absent. The filter is built once per
// SST from every key written to its data blocks and persisted as a
// single block alongside the properties and range-tombstones blocks.
//
// The bit array itself is owned by github.com/bits-and-blooms/bloom,
// which also tracks the two parameters needed to interpret it: the
// number of bits (m) and the number of hash probes per key (k). Target
// false-positive rate is 1%, matching the space/accuracy tradeoff the
// format was sized for.
package filter

import (
	"bytes"

	"github.com/bits-and-blooms/bloom/v3"
)

// TargetFalsePositiveRate is the false-positive rate new filters are
// sized for.
const TargetFalsePositiveRate = 0.01

// Builder accumulates keys for a single SST and produces its filter block.
type Builder struct {
	expectedKeys uint
	filter       *bloom.BloomFilter
	keys         [][]byte
}

// NewBuilder returns a Builder sized for expectedKeys entries.
// expectedKeys is a hint; Finish still works correctly if the actual
// count differs; it only affects the bits-per-key ratio.
func NewBuilder(expectedKeys int) *Builder {
	if expectedKeys < 1 {
		expectedKeys = 1
	}
	return &Builder{expectedKeys: uint(expectedKeys)}
}

// AddKey adds a key to the filter being built.
func (b *Builder) AddKey(key []byte) {
	k := append([]byte(nil), key...)
	b.keys = append(b.keys, k)
}

// NumKeys returns the number of keys added so far.
func (b *Builder) NumKeys() int { return len(b.keys) }

// Finish builds the filter over every added key and serializes it. The
// returned bytes are the exact contents of the SST's filter block.
func (b *Builder) Finish() ([]byte, error) {
	f := bloom.NewWithEstimates(b.expectedKeys, TargetFalsePositiveRate)
	for _, k := range b.keys {
		f.Add(k)
	}
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, err
	}
	b.filter = f
	return buf.Bytes(), nil
}

// Reset clears the builder for reuse on the next SST.
func (b *Builder) Reset() {
	b.keys = b.keys[:0]
	b.filter = nil
}

// Filter wraps a decoded Bloom filter for membership queries.
type Filter struct {
	f *bloom.BloomFilter
}

// Load decodes a filter block previously produced by Builder.Finish.
func Load(data []byte) (*Filter, error) {
	f := &bloom.BloomFilter{}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return &Filter{f: f}, nil
}

// MayContain reports whether key might be present. false is definitive;
// true may be a false positive.
func (flt *Filter) MayContain(key []byte) bool {
	if flt == nil || flt.f == nil {
		return true
	}
	return flt.f.Test(key)
}

// NumBits returns the size of the underlying bit array.
func (flt *Filter) NumBits() uint {
	if flt == nil || flt.f == nil {
		return 0
	}
	return flt.f.Cap()
}

// NumHashes returns the number of hash probes per key.
func (flt *Filter) NumHashes() uint {
	if flt == nil || flt.f == nil {
		return 0
	}
	return flt.f.K()
}
