package chkfs_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/mpucholblasco/chkfs"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func crc32cOfBlock(buf []byte) uint32 {
	return crc32.Checksum(buf, crc32cTable)
}

func fullBlock(fill byte) []byte {
	b := make([]byte, chkfs.BlockSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func marshalMeta(t *testing.T, m *chkfs.JournalMetaBlock) []byte {
	t.Helper()
	raw, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	return raw
}

// TestReplayerSimpleTransaction covers the straightforward replay
// case: one metablock, Start and Commit in the same block, one plain data
// block that must be applied verbatim.
func TestReplayerSimpleTransaction(t *testing.T) {
	data := fullBlock(0x11)
	m := &chkfs.JournalMetaBlock{
		Seq: 1, Tid: 1, CommitBoundary: 2, CompleteBoundary: 0,
		Flags: chkfs.MetaFlagMeta | chkfs.MetaFlagStart | chkfs.MetaFlagCommit,
		Refs:  []chkfs.JournalBlockRef{{BN: 50, Checksum: crc32cOfBlock(data)}},
	}
	blocks := [][]byte{marshalMeta(t, m), data}

	r := chkfs.NewReplayer(blocks)
	if err := r.Analyze(); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var writes []uint32
	var written [][]byte
	completed := 0
	r.Run(func(bn uint32, d []byte) {
		writes = append(writes, bn)
		written = append(written, append([]byte(nil), d...))
	}, func() { completed++ })

	if completed != 1 {
		t.Fatalf("expected complete() to be called once, got %d", completed)
	}
	if len(writes) != 1 || writes[0] != 50 {
		t.Fatalf("expected a single write to block 50, got %v", writes)
	}
	if !bytes.Equal(written[0], data) {
		t.Fatalf("applied data does not match the journaled block")
	}
}

// TestReplayerEscapedBlockIsUnescapedOnApply covers the escape encoding: a
// data block whose true content collides with the journal magic must be
// stored with that collision removed, and restored on replay.
func TestReplayerEscapedBlockIsUnescapedOnApply(t *testing.T) {
	trueData := make([]byte, chkfs.BlockSize)
	binary.LittleEndian.PutUint64(trueData[0:8], chkfs.JournalMagic)
	for i := 8; i < len(trueData); i++ {
		trueData[i] = 0x22
	}
	stored := append([]byte(nil), trueData...)
	binary.LittleEndian.PutUint64(stored[0:8], 0) // escaped: magic removed on disk

	m := &chkfs.JournalMetaBlock{
		Seq: 1, Tid: 1, CommitBoundary: 2, CompleteBoundary: 0,
		Flags: chkfs.MetaFlagMeta | chkfs.MetaFlagStart | chkfs.MetaFlagCommit,
		Refs: []chkfs.JournalBlockRef{
			{BN: 60, Checksum: crc32cOfBlock(trueData), BFlags: chkfs.RefEscaped},
		},
	}
	blocks := [][]byte{marshalMeta(t, m), stored}

	r := chkfs.NewReplayer(blocks)
	if err := r.Analyze(); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var applied []byte
	r.Run(func(bn uint32, d []byte) {
		if bn == 60 {
			applied = append([]byte(nil), d...)
		}
	}, func() {})

	if applied == nil {
		t.Fatalf("expected block 60 to be written")
	}
	if !bytes.Equal(applied, trueData) {
		t.Fatalf("escaped block was not restored to its true content on apply")
	}
}

// TestReplayerOverwriteElision covers two metablocks of one transaction
// (tid 1) writing the same block number: only the write from the later
// metablock must survive to the apply phase.
func TestReplayerOverwriteElision(t *testing.T) {
	dataA := fullBlock(0xaa)
	dataB := fullBlock(0xbb)

	m0 := &chkfs.JournalMetaBlock{
		Seq: 1, Tid: 1, CommitBoundary: 1, CompleteBoundary: 0,
		Flags: chkfs.MetaFlagMeta | chkfs.MetaFlagStart,
		Refs:  []chkfs.JournalBlockRef{{BN: 77, Checksum: crc32cOfBlock(dataA)}},
	}
	m1 := &chkfs.JournalMetaBlock{
		Seq: 2, Tid: 1, CommitBoundary: 2, CompleteBoundary: 0,
		Flags: chkfs.MetaFlagMeta | chkfs.MetaFlagCommit,
		Refs:  []chkfs.JournalBlockRef{{BN: 77, Checksum: crc32cOfBlock(dataB)}},
	}
	blocks := [][]byte{marshalMeta(t, m0), dataA, marshalMeta(t, m1), dataB}

	r := chkfs.NewReplayer(blocks)
	if err := r.Analyze(); err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	var writes []uint32
	var written [][]byte
	r.Run(func(bn uint32, d []byte) {
		writes = append(writes, bn)
		written = append(written, append([]byte(nil), d...))
	}, func() {})

	if len(writes) != 1 {
		t.Fatalf("expected exactly one surviving write after elision, got %d", len(writes))
	}
	if writes[0] != 77 {
		t.Fatalf("expected the surviving write to target block 77, got %d", writes[0])
	}
	if !bytes.Equal(written[0], dataB) {
		t.Fatalf("expected the newer transaction's data to survive elision")
	}
}

// TestReplayerEmptyJournalIsANoOp covers the case with no metablocks at all.
func TestReplayerEmptyJournalIsANoOp(t *testing.T) {
	blocks := [][]byte{fullBlock(0), fullBlock(0)}
	r := chkfs.NewReplayer(blocks)
	if err := r.Analyze(); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	calls := 0
	r.Run(func(bn uint32, d []byte) { calls++ }, func() {})
	if calls != 0 {
		t.Fatalf("expected no writes from an empty journal, got %d", calls)
	}
}
