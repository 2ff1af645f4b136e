package chkfs

import "encoding/binary"

// order is the byte order of every on-disk integer field. Chickadee images
// are always little-endian; unlike squashfs there is no big-endian variant
// to detect.
var order = binary.LittleEndian

// ToLE16 converts a host uint16 to its little-endian on-disk representation.
func ToLE16(v uint16) uint16 { return v }

// ToLE32 converts a host uint32 to its little-endian on-disk representation.
func ToLE32(v uint32) uint32 { return v }

// ToLE64 converts a host uint64 to its little-endian on-disk representation.
func ToLE64(v uint64) uint64 { return v }

// FromLE16 converts a little-endian on-disk uint16 to a host value.
func FromLE16(v uint16) uint16 { return v }

// FromLE32 converts a little-endian on-disk uint32 to a host value.
func FromLE32(v uint32) uint32 { return v }

// FromLE64 converts a little-endian on-disk uint64 to a host value.
func FromLE64(v uint64) uint64 { return v }

// putLE16 writes v to buf[0:2] in little-endian order.
func putLE16(buf []byte, v uint16) { order.PutUint16(buf, ToLE16(v)) }

// putLE32 writes v to buf[0:4] in little-endian order.
func putLE32(buf []byte, v uint32) { order.PutUint32(buf, ToLE32(v)) }

// putLE64 writes v to buf[0:8] in little-endian order.
func putLE64(buf []byte, v uint64) { order.PutUint64(buf, ToLE64(v)) }

// getLE16 reads a little-endian uint16 from buf[0:2].
func getLE16(buf []byte) uint16 { return FromLE16(order.Uint16(buf)) }

// getLE32 reads a little-endian uint32 from buf[0:4].
func getLE32(buf []byte) uint32 { return FromLE32(order.Uint32(buf)) }

// getLE64 reads a little-endian uint64 from buf[0:8].
func getLE64(buf []byte) uint64 { return FromLE64(order.Uint64(buf)) }
