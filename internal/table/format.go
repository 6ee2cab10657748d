// Package table implements the immutable sorted table (SST) format:
// a sequentially-written header, ~4 KiB data blocks, a bloom filter
// block, a properties block, a range-tombstones block, a metaindex
// block, an index block, and a fixed-position footer. Every block
// layout below is written and read through internal/encoding so the
// wire format matches byte-for-byte across the writer and reader.
package table

import (
	"encoding/binary"
	"errors"

	"github.com/aeternusdb/aeternusdb/internal/checksum"
)

const (
	magic   = "SST0"
	version = uint32(1)

	// headerSize is magic(4) + version(4) + record_count(8) +
	// tombstone_count(8) + creation_time(8).
	headerSize = 4 + 4 + 8 + 8 + 8

	// footerSize is metaindex_offset(8) + metaindex_size(8) +
	// index_offset(8) + index_size(8) + total_file_size(8) + crc32(4).
	footerSize = 8 + 8 + 8 + 8 + 8 + 4

	// targetBlockSize is the size a data block is flushed at; a block
	// may hold one oversized cell past this if the cell alone exceeds it.
	targetBlockSize = 4 << 10

	blockTrailerSize = 4 + 4 // uncompressed_size + crc32

	metaBloom      = "filter.bloom"
	metaProperties = "meta.properties"
	metaRangeDels  = "meta.range_deletions"
)

var (
	// ErrBadMagic is returned when a file's header magic doesn't match.
	ErrBadMagic = errors.New("table: bad header magic")
	// ErrBadVersion is returned when a file's header version is unsupported.
	ErrBadVersion = errors.New("table: unsupported version")
	// ErrBadChecksum is returned when any block's trailer CRC doesn't match.
	ErrBadChecksum = errors.New("table: block checksum mismatch")
	// ErrEmptyTable is returned by Finish when zero records were added.
	ErrEmptyTable = errors.New("table: refusing to write an empty table")
	// ErrTruncated is returned when a file is shorter than its fixed
	// header/footer regions require.
	ErrTruncated = errors.New("table: file too short to be a valid table")

	errAlreadyFinished = errors.New("table: builder already finished")
)

// uint64Bytes encodes v as 8 little-endian bytes, used for numeric
// property values stored in the properties block.
func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

type header struct {
	recordCount    uint64
	tombstoneCount uint64
	creationTime   int64
}

func encodeHeader(h header) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint64(buf[8:16], h.recordCount)
	binary.LittleEndian.PutUint64(buf[16:24], h.tombstoneCount)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.creationTime))
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) < headerSize {
		return header{}, ErrTruncated
	}
	if string(buf[0:4]) != magic {
		return header{}, ErrBadMagic
	}
	v := binary.LittleEndian.Uint32(buf[4:8])
	if v != version {
		return header{}, ErrBadVersion
	}
	return header{
		recordCount:    binary.LittleEndian.Uint64(buf[8:16]),
		tombstoneCount: binary.LittleEndian.Uint64(buf[16:24]),
		creationTime:   int64(binary.LittleEndian.Uint64(buf[24:32])),
	}, nil
}

type footer struct {
	metaindexOffset uint64
	metaindexSize   uint64
	indexOffset     uint64
	indexSize       uint64
	totalFileSize   uint64
}

func encodeFooter(f footer) []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(buf[0:8], f.metaindexOffset)
	binary.LittleEndian.PutUint64(buf[8:16], f.metaindexSize)
	binary.LittleEndian.PutUint64(buf[16:24], f.indexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], f.indexSize)
	binary.LittleEndian.PutUint64(buf[32:40], f.totalFileSize)
	crc := checksum.Value(buf[:40])
	binary.LittleEndian.PutUint32(buf[40:44], crc)
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) < footerSize {
		return footer{}, ErrTruncated
	}
	crc := binary.LittleEndian.Uint32(buf[40:44])
	if checksum.Value(buf[:40]) != crc {
		return footer{}, ErrBadChecksum
	}
	return footer{
		metaindexOffset: binary.LittleEndian.Uint64(buf[0:8]),
		metaindexSize:   binary.LittleEndian.Uint64(buf[8:16]),
		indexOffset:     binary.LittleEndian.Uint64(buf[16:24]),
		indexSize:       binary.LittleEndian.Uint64(buf[24:32]),
		totalFileSize:   binary.LittleEndian.Uint64(buf[32:40]),
	}, nil
}

// appendTrailer appends the {uncompressed_size, crc32} trailer for a
// block whose payload is body.
func appendTrailer(body []byte) []byte {
	out := make([]byte, 0, len(body)+blockTrailerSize)
	out = append(out, body...)
	sizeBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeBuf, uint32(len(body)))
	out = append(out, sizeBuf...)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, checksum.Value(body))
	out = append(out, crcBuf...)
	return out
}

// splitTrailer validates and strips a block's trailer, returning its body.
func splitTrailer(block []byte) ([]byte, error) {
	if len(block) < blockTrailerSize {
		return nil, ErrTruncated
	}
	body := block[:len(block)-blockTrailerSize]
	trailer := block[len(block)-blockTrailerSize:]
	size := binary.LittleEndian.Uint32(trailer[0:4])
	crc := binary.LittleEndian.Uint32(trailer[4:8])
	if int(size) != len(body) {
		return nil, ErrBadChecksum
	}
	if checksum.Value(body) != crc {
		return nil, ErrBadChecksum
	}
	return body, nil
}
