package chkfs_test

import (
	"errors"
	"testing"

	"github.com/mpucholblasco/chkfs"
)

func TestSuperblockRoundTrip(t *testing.T) {
	sb := &chkfs.Superblock{
		Magic:     chkfs.SuperblockMagic,
		NBlocks:   1024,
		NSwap:     8,
		NInodes:   64,
		NJournal:  64,
		SwapBN:    chkfs.SwapBlock,
		FBBBN:     9,
		InodeBN:   10,
		DataBN:    11,
		JournalBN: 960,
	}
	raw, err := sb.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got chkfs.Superblock
	if err := got.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != *sb {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, *sb)
	}
}

func TestSuperblockBadMagic(t *testing.T) {
	sb := &chkfs.Superblock{Magic: 0xdeadbeef, NInodes: 64}
	raw, err := sb.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got chkfs.Superblock
	if err := got.UnmarshalBinary(raw); !errors.Is(err, chkfs.ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestSuperblockBadGeometry(t *testing.T) {
	sb := &chkfs.Superblock{
		Magic: chkfs.SuperblockMagic, NBlocks: 1024, NSwap: 8, NInodes: 64,
		NJournal: 64, SwapBN: chkfs.SwapBlock,
		FBBBN: 99, InodeBN: 10, DataBN: 11, JournalBN: 960, // FBBBN wrong
	}
	raw, err := sb.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	var got chkfs.Superblock
	if err := got.UnmarshalBinary(raw); !errors.Is(err, chkfs.ErrBadGeometry) {
		t.Fatalf("expected ErrBadGeometry, got %v", err)
	}
}

func TestInodeRoundTrip(t *testing.T) {
	ino := &chkfs.Inode{
		Type:  uint16(chkfs.InodeTypeFile),
		Size:  12345,
		NLink: 1,
	}
	for i := range ino.Direct {
		ino.Direct[i] = uint32(100 + i)
	}
	ino.Indirect = 500
	ino.Indirect2 = 600

	raw, err := ino.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(raw) != chkfs.InodeSize {
		t.Fatalf("expected %d bytes, got %d", chkfs.InodeSize, len(raw))
	}

	var got chkfs.Inode
	if err := got.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != *ino {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, *ino)
	}
	if !got.IsLive() {
		t.Fatalf("expected live inode")
	}
}

func TestInodeNoneIsNotLive(t *testing.T) {
	var ino chkfs.Inode
	if ino.IsLive() {
		t.Fatalf("zero-value inode should not be live")
	}
}
