package manifest

import (
	"encoding/binary"
	"errors"

	"github.com/aeternusdb/aeternusdb/internal/checksum"
)

// Snapshot file layout: magic | version | snapshot_lsn | state_len |
// state bytes | checksum. checksum is a CRC32 computed over every
// preceding byte; the checksum field itself is not part of the
// covered span.
const (
	snapshotMagic   = "AMSN"
	snapshotVersion = uint32(1)
)

// ErrBadSnapshotChecksum is returned when a loaded snapshot's CRC32
// does not match its contents. Recovery treats this as fatal: a
// snapshot, unlike a WAL tail, is never partially trusted.
var ErrBadSnapshotChecksum = errors.New("manifest: snapshot checksum mismatch")

var errBadSnapshotMagic = errors.New("manifest: bad snapshot magic")

// encodeSnapshot serializes {version, snapshotLsn, state, checksum}.
func encodeSnapshot(snapshotLsn uint64, s *State) []byte {
	stateBytes := encodeState(s)

	buf := make([]byte, 0, 4+4+8+4+len(stateBytes)+4)
	buf = append(buf, snapshotMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, snapshotVersion)
	buf = binary.LittleEndian.AppendUint64(buf, snapshotLsn)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(stateBytes)))
	buf = append(buf, stateBytes...)

	crc := checksum.Value(buf)
	buf = binary.LittleEndian.AppendUint32(buf, crc)
	return buf
}

// decodeSnapshot validates the trailing checksum before decoding the
// state, so a corrupt snapshot is rejected before any partially
// garbage state is ever constructed.
func decodeSnapshot(data []byte) (snapshotLsn uint64, s *State, err error) {
	if len(data) < len(snapshotMagic)+4+8+4+4 {
		return 0, nil, errBadSnapshotMagic
	}
	if string(data[0:4]) != snapshotMagic {
		return 0, nil, errBadSnapshotMagic
	}

	crcOffset := len(data) - 4
	wantCRC := binary.LittleEndian.Uint32(data[crcOffset:])
	gotCRC := checksum.Value(data[:crcOffset])
	if gotCRC != wantCRC {
		return 0, nil, ErrBadSnapshotChecksum
	}

	ver := binary.LittleEndian.Uint32(data[4:8])
	if ver != snapshotVersion {
		return 0, nil, errBadSnapshotMagic
	}
	snapshotLsn = binary.LittleEndian.Uint64(data[8:16])
	stateLen := binary.LittleEndian.Uint32(data[16:20])
	if int(20+stateLen) > crcOffset {
		return 0, nil, errBadSnapshotMagic
	}

	s, err = decodeState(data[20 : 20+stateLen])
	if err != nil {
		return 0, nil, err
	}
	return snapshotLsn, s, nil
}
