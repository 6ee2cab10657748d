// Package checksum computes the CRC32 used to protect WAL frames, SST
// blocks, and the manifest snapshot against truncation and bit rot.
package checksum

import "hash/crc32"

var table = crc32.MakeTable(crc32.IEEE)

// Value computes the CRC32 of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Extend computes the CRC32 of concat(a, data) given initCRC, the CRC32 of a.
func Extend(initCRC uint32, data []byte) uint32 {
	return crc32.Update(initCRC, table, data)
}
