package chkfs

import "hash/crc32"

// crc32cTable is the Castagnoli polynomial table used for every journal
// metablock checksum. Grounded on the ecosystem norm observed across the
// retrieval pack (e.g. go-diskfs's ext4 crc helper also wraps this same
// stdlib table): CRC32C has no widely used third-party Go package, so
// hash/crc32 is the idiomatic choice rather than a gap to fill.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// crc32cChecksumSentinel disables checksum verification for a metablock
// when stored in its Checksum field.
const crc32cChecksumSentinel = 0x82600A5F

// crc32cOf computes the CRC32C of data.
func crc32cOf(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}
