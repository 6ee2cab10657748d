// Package wal implements the generic append-only log shared by the
// memtable and the manifest. Each WAL file owns one file handle, one
// mutex, and one monotonically increasing sequence number in its name.
//
// File layout:
//
//	header: magic "AWAL" | version u32 | max_record_size u32 | wal_seq u64 | uuid[16] | crc32 u32
//	record: len u32 | record bytes | crc32 u32   (crc covers len ‖ bytes)
//
// Replay stops cleanly at EOF, a truncated frame, a checksum mismatch,
// or an invalid length prefix — all treated as the end of the valid
// log, never as corruption of records already replayed.
package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/aeternusdb/aeternusdb/internal/checksum"
	"github.com/aeternusdb/aeternusdb/internal/testutil"
	"github.com/aeternusdb/aeternusdb/internal/vfs"
)

const (
	magic         = "AWAL"
	version       = 1
	headerSize    = 4 + 4 + 4 + 8 + 16 + 4 // magic+version+max_record_size+wal_seq+uuid+crc32
	frameOverhead = 4 + 4                  // len + crc32
)

var (
	// ErrRecordTooLarge is returned by Append when the encoded record
	// exceeds the WAL's configured max_record_size.
	ErrRecordTooLarge = errors.New("wal: record exceeds max_record_size")
	// ErrHeaderMismatch is returned by Open when the on-disk header's
	// sequence number doesn't match the filename-derived sequence.
	ErrHeaderMismatch = errors.New("wal: header sequence does not match filename")
	errBadHeaderMagic = errors.New("wal: invalid header magic")
	errBadHeaderCRC   = errors.New("wal: invalid header checksum")
)

// Codec encodes and decodes the record type T. Implementations must be
// deterministic: Decode(Encode(v)) must reproduce v exactly.
type Codec[T any] interface {
	Encode(v T) []byte
	Decode(data []byte) (T, error)
}

// WAL is a generic append-only log parameterized by its record type.
type WAL[T any] struct {
	fs            vfs.FS
	dir           string
	codec         Codec[T]
	maxRecordSize uint32

	mu   sync.Mutex
	seq  uint64
	id   uuid.UUID
	file vfs.WritableFile
	path string
}

func fileName(seq uint64) string { return fmt.Sprintf("wal-%06d.log", seq) }

// Path returns the conventional filename for a WAL with the given
// sequence number, joined to dir.
func Path(dir string, seq uint64) string { return filepath.Join(dir, fileName(seq)) }

func encodeHeader(seq uint64, maxRecordSize uint32, id uuid.UUID) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], maxRecordSize)
	binary.LittleEndian.PutUint64(buf[12:20], seq)
	copy(buf[20:36], id[:])
	crc := checksum.Value(buf[:36])
	binary.LittleEndian.PutUint32(buf[36:40], crc)
	return buf
}

func decodeHeader(buf []byte) (seq uint64, maxRecordSize uint32, id uuid.UUID, err error) {
	if len(buf) < headerSize {
		return 0, 0, uuid.UUID{}, io.ErrUnexpectedEOF
	}
	if string(buf[0:4]) != magic {
		return 0, 0, uuid.UUID{}, errBadHeaderMagic
	}
	crc := binary.LittleEndian.Uint32(buf[36:40])
	if checksum.Value(buf[:36]) != crc {
		return 0, 0, uuid.UUID{}, errBadHeaderCRC
	}
	maxRecordSize = binary.LittleEndian.Uint32(buf[8:12])
	seq = binary.LittleEndian.Uint64(buf[12:20])
	copy(id[:], buf[20:36])
	return seq, maxRecordSize, id, nil
}

// Create creates a fresh WAL file at dir with the given sequence
// number and a new random UUID, writes its header, and fsyncs it
// before returning.
func Create[T any](fsys vfs.FS, dir string, seq uint64, maxRecordSize uint32, codec Codec[T]) (*WAL[T], error) {
	path := Path(dir, seq)
	f, err := fsys.Create(path)
	if err != nil {
		return nil, err
	}
	id := uuid.New()
	header := encodeHeader(seq, maxRecordSize, id)
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &WAL[T]{
		fs:            fsys,
		dir:           dir,
		codec:         codec,
		maxRecordSize: maxRecordSize,
		seq:           seq,
		id:            id,
		file:          f,
		path:          path,
	}, nil
}

// Open opens an existing WAL file at dir for seq, validates its
// header, and replays every valid record frame in write order. It
// returns the opened WAL (positioned for further Append calls) and
// the replayed records.
func Open[T any](fsys vfs.FS, dir string, seq uint64, maxRecordSize uint32, codec Codec[T]) (*WAL[T], []T, error) {
	path := Path(dir, seq)

	rf, err := fsys.Open(path)
	if err != nil {
		return nil, nil, err
	}
	headerBuf := make([]byte, headerSize)
	if _, err := io.ReadFull(rf, headerBuf); err != nil {
		_ = rf.Close()
		return nil, nil, fmt.Errorf("wal: reading header of %s: %w", path, err)
	}
	fileSeq, fileMaxRecordSize, id, err := decodeHeader(headerBuf)
	if err != nil {
		_ = rf.Close()
		return nil, nil, fmt.Errorf("wal: decoding header of %s: %w", path, err)
	}
	if fileSeq != seq {
		_ = rf.Close()
		return nil, nil, ErrHeaderMismatch
	}
	if maxRecordSize == 0 {
		maxRecordSize = fileMaxRecordSize
	}

	var records []T
	validOffset := int64(headerSize)
	for {
		rec, n, ok, err := readFrame(rf, codec)
		if err != nil {
			_ = rf.Close()
			return nil, nil, err
		}
		if !ok {
			break
		}
		records = append(records, rec)
		validOffset += int64(n)
	}
	if err := rf.Close(); err != nil {
		return nil, nil, err
	}

	// Any bytes past the last valid frame are a truncated write from a
	// crash mid-append; drop them so future appends start clean.
	f, err := fsys.OpenAppend(path)
	if err != nil {
		return nil, nil, err
	}
	size, err := f.Size()
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	if size > validOffset {
		if err := f.Truncate(validOffset); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return nil, nil, err
		}
	}

	return &WAL[T]{
		fs:            fsys,
		dir:           dir,
		codec:         codec,
		maxRecordSize: maxRecordSize,
		seq:           seq,
		id:            id,
		file:          f,
		path:          path,
	}, records, nil
}

// readFrame reads one record frame. ok is false (with a nil error) at
// a clean EOF, a truncated frame, or a checksum/length mismatch — all
// of which mean "end of valid log", not corruption of prior records.
// consumed is the number of bytes the frame occupies on disk.
func readFrame[T any](r io.Reader, codec Codec[T]) (rec T, consumed int, ok bool, err error) {
	var zero T
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return zero, 0, false, nil
	}
	n := binary.LittleEndian.Uint32(lenBuf)
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return zero, 0, false, nil
	}
	crcBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, crcBuf); err != nil {
		return zero, 0, false, nil
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf)
	gotCRC := checksum.Extend(checksum.Value(lenBuf), body)
	if gotCRC != wantCRC {
		return zero, 0, false, nil
	}
	v, err := codec.Decode(body)
	if err != nil {
		return zero, 0, false, nil
	}
	return v, frameOverhead + len(body), true, nil
}

// Append serializes v, fails if it would exceed max_record_size, and
// writes the frame under the WAL's mutex, fsyncing before returning.
func (w *WAL[T]) Append(v T) error {
	body := w.codec.Encode(v)
	if w.maxRecordSize > 0 && uint32(len(body)) > w.maxRecordSize {
		return ErrRecordTooLarge
	}

	frame := make([]byte, 0, frameOverhead+len(body))
	lenBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(lenBuf, uint32(len(body)))
	frame = append(frame, lenBuf...)
	frame = append(frame, body...)
	crc := checksum.Extend(checksum.Value(lenBuf), body)
	crcBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(crcBuf, crc)
	frame = append(frame, crcBuf...)

	w.mu.Lock()
	defer w.mu.Unlock()
	testutil.MaybeKill(testutil.KPWALAppend0)
	if _, err := w.file.Write(frame); err != nil {
		return err
	}
	testutil.MaybeKill(testutil.KPWALSync0)
	if err := w.file.Sync(); err != nil {
		return err
	}
	testutil.MaybeKill(testutil.KPWALSync1)
	return nil
}

// Truncate resets the file to header-only, used by manifest
// checkpoints once the event log has been captured in a snapshot.
func (w *WAL[T]) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(headerSize); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close closes the underlying file handle.
func (w *WAL[T]) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Seq returns the WAL's sequence number.
func (w *WAL[T]) Seq() uint64 { return w.seq }

// ID returns the WAL's header UUID.
func (w *WAL[T]) ID() uuid.UUID { return w.id }

// FilePath returns the WAL's file path.
func (w *WAL[T]) FilePath() string { return w.path }

// RotateNext durably closes the current file and opens a new one at
// seq+1 with a fresh UUID, replacing this WAL's handle in place.
func (w *WAL[T]) RotateNext() (*WAL[T], error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return nil, err
	}
	next, err := Create(w.fs, w.dir, w.seq+1, w.maxRecordSize, w.codec)
	if err != nil {
		return nil, err
	}
	w.seq, w.id, w.file, w.path = next.seq, next.id, next.file, next.path
	return w, nil
}
