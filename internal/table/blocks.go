package table

import (
	"github.com/aeternusdb/aeternusdb/internal/encoding"
	"github.com/aeternusdb/aeternusdb/internal/rangedel"
)

// cell is one data-block record: a single version of a single key.
type cell struct {
	Key     []byte
	Value   []byte
	TS      int64
	Deleted bool
	LSN     uint64
}

const flagDelete = uint8(1)

func encodeCell(c cell) []byte {
	w := encoding.NewWriter(len(c.Key) + len(c.Value) + 32)
	w.PutBytes(c.Key)
	w.PutBytes(c.Value)
	w.PutUint64(uint64(c.TS))
	var flags uint8
	if c.Deleted {
		flags |= flagDelete
	}
	w.PutUint8(flags)
	w.PutUint64(c.LSN)
	return w.Bytes()
}

// decodeCell decodes one cell starting at r's current position and
// returns it, leaving r positioned at the next cell (or EOF).
func decodeCell(r *encoding.Reader) (cell, error) {
	key, err := r.GetBytes()
	if err != nil {
		return cell{}, err
	}
	value, err := r.GetBytes()
	if err != nil {
		return cell{}, err
	}
	tsRaw, err := r.GetUint64()
	if err != nil {
		return cell{}, err
	}
	flags, err := r.GetUint8()
	if err != nil {
		return cell{}, err
	}
	lsn, err := r.GetUint64()
	if err != nil {
		return cell{}, err
	}
	return cell{
		Key:     key,
		Value:   value,
		TS:      int64(tsRaw),
		Deleted: flags&flagDelete != 0,
		LSN:     lsn,
	}, nil
}

// decodeBlock decodes every cell in a data block body, in write order.
func decodeBlock(body []byte) ([]cell, error) {
	r := encoding.NewReader(body)
	var cells []cell
	for r.Remaining() > 0 {
		c, err := decodeCell(r)
		if err != nil {
			return nil, err
		}
		cells = append(cells, c)
	}
	return cells, nil
}

// indexEntry points at one data block, keyed by a separator that is
// >= every key in the block and < every key in the next block.
type indexEntry struct {
	Separator []byte
	Offset    uint64
	Size      uint32
}

func encodeIndexBlock(entries []indexEntry) []byte {
	w := encoding.NewWriter(64 * (len(entries) + 1))
	w.PutVectorHeader(len(entries))
	for _, e := range entries {
		w.PutBytes(e.Separator)
		w.PutUint64(e.Offset)
		w.PutUint32(e.Size)
	}
	return appendTrailer(w.Bytes())
}

func decodeIndexBlock(block []byte) ([]indexEntry, error) {
	body, err := splitTrailer(block)
	if err != nil {
		return nil, err
	}
	r := encoding.NewReader(body)
	n, err := r.GetVectorHeader()
	if err != nil {
		return nil, err
	}
	entries := make([]indexEntry, 0, n)
	for i := 0; i < n; i++ {
		sep, err := r.GetBytes()
		if err != nil {
			return nil, err
		}
		offset, err := r.GetUint64()
		if err != nil {
			return nil, err
		}
		size, err := r.GetUint32()
		if err != nil {
			return nil, err
		}
		entries = append(entries, indexEntry{
			Separator: append([]byte(nil), sep...),
			Offset:    offset,
			Size:      size,
		})
	}
	return entries, nil
}

// metaEntry points at one named meta block (the bloom filter, the
// properties block, or the range-tombstones block).
type metaEntry struct {
	Name   string
	Offset uint64
	Size   uint64
}

func encodeMetaindexBlock(entries []metaEntry) []byte {
	w := encoding.NewWriter(64 * (len(entries) + 1))
	w.PutVectorHeader(len(entries))
	for _, e := range entries {
		w.PutString(e.Name)
		w.PutUint64(e.Offset)
		w.PutUint64(e.Size)
	}
	return appendTrailer(w.Bytes())
}

func decodeMetaindexBlock(block []byte) (map[string]metaEntry, error) {
	body, err := splitTrailer(block)
	if err != nil {
		return nil, err
	}
	r := encoding.NewReader(body)
	n, err := r.GetVectorHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string]metaEntry, n)
	for i := 0; i < n; i++ {
		name, err := r.GetString()
		if err != nil {
			return nil, err
		}
		offset, err := r.GetUint64()
		if err != nil {
			return nil, err
		}
		size, err := r.GetUint64()
		if err != nil {
			return nil, err
		}
		out[name] = metaEntry{Name: name, Offset: offset, Size: size}
	}
	return out, nil
}

// Required property names, per the SST format.
const (
	PropCreationTime   = "creation.time"
	PropNumEntries     = "num.entries"
	PropNumDeletions   = "num.deletions"
	PropNumRangeDels   = "num.range_deletions"
	PropMinLSN         = "min.lsn"
	PropMaxLSN         = "max.lsn"
	PropMinTimestamp   = "min.timestamp"
	PropMaxTimestamp   = "max.timestamp"
	PropMinKey         = "min.key"
	PropMaxKey         = "max.key"
)

// encodeProperties serializes a properties block. Values are encoded as
// raw length-prefixed bytes (PutBytes), not PutString: min.key/max.key
// hold arbitrary key bytes that need not be valid UTF-8, and GetString
// rejects those. Property names are always ASCII identifiers, so they
// stay ordinary strings.
func encodeProperties(props map[string][]byte) []byte {
	w := encoding.NewWriter(64 * (len(props) + 1))
	w.PutVectorHeader(len(props))
	for _, name := range propertyOrder(props) {
		w.PutString(name)
		w.PutBytes(props[name])
	}
	return appendTrailer(w.Bytes())
}

// propertyOrder returns props' keys in a fixed, deterministic order so
// encodeProperties output is stable across runs with the same inputs.
func propertyOrder(props map[string][]byte) []string {
	known := []string{
		PropCreationTime, PropNumEntries, PropNumDeletions, PropNumRangeDels,
		PropMinLSN, PropMaxLSN, PropMinTimestamp, PropMaxTimestamp,
		PropMinKey, PropMaxKey,
	}
	order := make([]string, 0, len(props))
	seen := make(map[string]bool, len(props))
	for _, k := range known {
		if _, ok := props[k]; ok {
			order = append(order, k)
			seen[k] = true
		}
	}
	for k := range props {
		if !seen[k] {
			order = append(order, k)
		}
	}
	return order
}

func decodeProperties(block []byte) (map[string][]byte, error) {
	body, err := splitTrailer(block)
	if err != nil {
		return nil, err
	}
	r := encoding.NewReader(body)
	n, err := r.GetVectorHeader()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		name, err := r.GetString()
		if err != nil {
			return nil, err
		}
		value, err := r.GetBytes()
		if err != nil {
			return nil, err
		}
		out[name] = append([]byte(nil), value...)
	}
	return out, nil
}

func encodeRangeTombstonesBlock(tombstones []*rangedel.RangeTombstone) []byte {
	w := encoding.NewWriter(64 * (len(tombstones) + 1))
	w.PutVectorHeader(len(tombstones))
	for _, t := range tombstones {
		w.PutBytes(t.Start)
		w.PutBytes(t.End)
		w.PutUint64(uint64(t.TS))
		w.PutUint64(t.LSN)
	}
	return appendTrailer(w.Bytes())
}

func decodeRangeTombstonesBlock(block []byte) ([]*rangedel.RangeTombstone, error) {
	body, err := splitTrailer(block)
	if err != nil {
		return nil, err
	}
	r := encoding.NewReader(body)
	n, err := r.GetVectorHeader()
	if err != nil {
		return nil, err
	}
	out := make([]*rangedel.RangeTombstone, 0, n)
	for i := 0; i < n; i++ {
		start, err := r.GetBytes()
		if err != nil {
			return nil, err
		}
		end, err := r.GetBytes()
		if err != nil {
			return nil, err
		}
		ts, err := r.GetUint64()
		if err != nil {
			return nil, err
		}
		lsn, err := r.GetUint64()
		if err != nil {
			return nil, err
		}
		out = append(out, rangedel.New(
			append([]byte(nil), start...),
			append([]byte(nil), end...),
			lsn, int64(ts),
		))
	}
	return out, nil
}
