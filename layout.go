// Package chkfs implements the on-disk format of a teaching operating
// system's filesystem: superblock, free-block bitmap, inode table, data
// area and write-ahead journal, plus the buffer cache and file block
// iterator that sit on top of them.
package chkfs

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

const (
	// BlockSize is the fixed size in bytes of every block in a chkfs image.
	BlockSize = 4096

	// SuperblockMagic identifies a valid chkfs superblock.
	SuperblockMagic = 0xFBBFBB003EE9BEEF

	// SuperblockOffset is the byte offset of the superblock within block 0.
	SuperblockOffset = 512

	// NDirect is the number of direct block pointers in an inode.
	NDirect = 9

	// NIndirect is the number of block pointers per indirect block.
	NIndirect = BlockSize / 4 // 1024 uint32 entries

	// MaxFileBlocks is the maximum number of data blocks addressable by one inode.
	MaxFileBlocks = NDirect + NIndirect + NIndirect*NIndirect

	// MaxFileSize is the maximum file size in bytes representable by one inode.
	MaxFileSize = MaxFileBlocks * BlockSize

	// InodeSize is the on-disk size of one inode record.
	InodeSize = 64

	// DirentSize is the on-disk size of one directory entry.
	DirentSize = 128

	// DirentNameSize is the number of bytes reserved for a directory entry's name.
	DirentNameSize = DirentSize - 4 // inum is 4 bytes

	// RootInode is the inode number of the single root directory.
	RootInode = 1

	// SwapBlock is the fixed first block number of the swap region.
	SwapBlock = 1
)

// Inode type codes.
const (
	InodeTypeNone Type = 0
	InodeTypeFile Type = 1
	InodeTypeDir  Type = 2
)

// Type is an inode's on-disk type field.
type Type uint16

func (t Type) String() string {
	switch t {
	case InodeTypeNone:
		return "none"
	case InodeTypeFile:
		return "file"
	case InodeTypeDir:
		return "dir"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

// Superblock is the on-disk root metadata record for a chkfs image, found
// at byte offset SuperblockOffset within block 0.
type Superblock struct {
	Magic     uint64
	NBlocks   uint32
	NSwap     uint32
	NInodes   uint32
	NJournal  uint32
	SwapBN    uint32
	FBBBN     uint32
	InodeBN   uint32
	DataBN    uint32
	JournalBN uint32
}

// binarySize returns the on-disk size of the superblock in bytes, computed
// the way the teacher's Superblock.binarySize walks exported fields by
// reflection rather than hard-coding a constant.
func (s *Superblock) binarySize() int {
	v := reflect.ValueOf(s).Elem()
	sz := uintptr(0)
	for i := 0; i < v.NumField(); i++ {
		sz += v.Field(i).Type().Size()
	}
	return int(sz)
}

// MarshalBinary serializes the superblock to its on-disk little-endian form.
func (s *Superblock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, s.binarySize())
	return buf, binary.Write(newLEWriter(buf), binary.LittleEndian, s)
}

// UnmarshalBinary decodes a superblock from its on-disk little-endian form.
func (s *Superblock) UnmarshalBinary(data []byte) error {
	if len(data) < s.binarySize() {
		return fmt.Errorf("chkfs: short superblock read (%d bytes)", len(data))
	}
	if err := binary.Read(newLEReader(data), binary.LittleEndian, s); err != nil {
		return err
	}
	if s.Magic != SuperblockMagic {
		return ErrBadMagic
	}
	return s.checkGeometry()
}

// checkGeometry validates the region-contiguity invariants of spec.md §3.
func (s *Superblock) checkGeometry() error {
	if s.SwapBN != SwapBlock {
		return fmt.Errorf("%w: swap_bn must be %d, got %d", ErrBadGeometry, SwapBlock, s.SwapBN)
	}
	fbbBlocks := ceilDiv(uint64(s.NBlocks), BlockSize*8)
	inodeBlocks := ceilDiv(uint64(s.NInodes)*InodeSize, BlockSize)

	wantFBB := s.SwapBN + s.NSwap
	if uint64(s.FBBBN) != uint64(wantFBB) {
		return fmt.Errorf("%w: fbb_bn expected %d, got %d", ErrBadGeometry, wantFBB, s.FBBBN)
	}
	wantInode := uint64(s.FBBBN) + fbbBlocks
	if uint64(s.InodeBN) != wantInode {
		return fmt.Errorf("%w: inode_bn expected %d, got %d", ErrBadGeometry, wantInode, s.InodeBN)
	}
	wantData := uint64(s.InodeBN) + inodeBlocks
	if uint64(s.DataBN) != wantData {
		return fmt.Errorf("%w: data_bn expected %d, got %d", ErrBadGeometry, wantData, s.DataBN)
	}
	if uint64(s.JournalBN) < uint64(s.DataBN) {
		return fmt.Errorf("%w: journal_bn before data_bn", ErrBadGeometry)
	}
	if uint64(s.JournalBN)+uint64(s.NJournal) > uint64(s.NBlocks) {
		return fmt.Errorf("%w: journal region exceeds nblocks", ErrBadGeometry)
	}
	if s.NInodes < 10 {
		return fmt.Errorf("%w: ninodes must be >= 10", ErrBadGeometry)
	}
	return nil
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}

// Inode is the 64-byte on-disk inode record. It never carries the two
// in-memory-only atomic words described in spec.md §3/§9 — those live in
// InodeMem, attached separately to a cached inode so that writing this
// struct to disk can never leak ephemeral state.
type Inode struct {
	Type      uint16
	_         uint16 // padding, always zero on disk
	Size      uint64
	NLink     uint32
	_         uint32 // reserved, always zero on disk
	Direct    [NDirect]uint32
	Indirect  uint32
	Indirect2 uint32
}

// MarshalBinary serializes the inode to its 64-byte on-disk form.
func (ino *Inode) MarshalBinary() ([]byte, error) {
	buf := make([]byte, InodeSize)
	putLE16(buf[0:2], ino.Type)
	putLE64(buf[4:12], ino.Size)
	putLE32(buf[12:16], ino.NLink)
	off := 20
	for i := 0; i < NDirect; i++ {
		putLE32(buf[off:off+4], ino.Direct[i])
		off += 4
	}
	putLE32(buf[off:off+4], ino.Indirect)
	off += 4
	putLE32(buf[off:off+4], ino.Indirect2)
	return buf, nil
}

// UnmarshalBinary decodes an inode from its 64-byte on-disk form.
func (ino *Inode) UnmarshalBinary(data []byte) error {
	if len(data) < InodeSize {
		return fmt.Errorf("chkfs: short inode read (%d bytes)", len(data))
	}
	ino.Type = getLE16(data[0:2])
	ino.Size = getLE64(data[4:12])
	ino.NLink = getLE32(data[12:16])
	off := 20
	for i := 0; i < NDirect; i++ {
		ino.Direct[i] = getLE32(data[off : off+4])
		off += 4
	}
	ino.Indirect = getLE32(data[off : off+4])
	off += 4
	ino.Indirect2 = getLE32(data[off : off+4])
	return nil
}

// IsLive reports whether the inode is in use (spec.md §3 "Lifecycles").
func (ino *Inode) IsLive() bool {
	return ino.Type != uint16(InodeTypeNone)
}

// InodeMem holds the two in-memory-only words of a loaded inode: a lock
// word and a reference count, neither of which is ever persisted. FS.Inode
// builds every CachedInode with a zero InodeMem; the lock taken by
// CachedInode.Lock/RLock is CachedInode's own contentLock field.
type InodeMem struct {
	lock uint32 // 0 = unlocked, 1..2^32-2 = reader count, 2^32-1 = writer
	ref  uint32
}

// leReader/leWriter are minimal binary.Read/Write-compatible wrappers used
// only for Superblock's reflect-driven (de)serialization, mirroring the
// teacher's use of bytes.Reader with binary.Read in super.go.
func newLEReader(data []byte) *leBuf { return &leBuf{data: data} }
func newLEWriter(buf []byte) *leBuf  { return &leBuf{data: buf} }

type leBuf struct {
	data []byte
	pos  int
}

func (b *leBuf) Read(p []byte) (int, error) {
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

func (b *leBuf) Write(p []byte) (int, error) {
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}
