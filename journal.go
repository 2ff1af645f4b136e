package chkfs

import "fmt"

const (
	// JournalMagic identifies a valid journal metablock.
	JournalMagic = 0xFBBFBB009EEBCEED

	// journalHeaderSize is the size in bytes of a metablock's fixed header,
	// before the block-reference array: magic(8) checksum(4) padding(4)
	// seq(2) tid(2) commit_boundary(2) complete_boundary(2) flags(2) nref(2).
	journalHeaderSize = 28

	// journalRefSize is the on-disk stride in bytes of one JournalBlockRef:
	// bn(4) bchecksum(4) bflags(2), padded to a 4-byte-aligned stride.
	journalRefSize = 12

	// MaxJournalRefs is the maximum number of block references a single
	// metablock can carry: (BlockSize - journalHeaderSize) / journalRefSize.
	MaxJournalRefs = (BlockSize - journalHeaderSize) / journalRefSize // 339
)

// Metablock flag bits. Values match chickadeefs.hh's jf_* constants;
// 0x08 is deliberately left unused.
const (
	MetaFlagMeta     MetaFlags = 0x01
	MetaFlagError    MetaFlags = 0x02
	MetaFlagCorrupt  MetaFlags = 0x04
	MetaFlagStart    MetaFlags = 0x10
	MetaFlagCommit   MetaFlags = 0x20
	MetaFlagComplete MetaFlags = 0x40
)

// MetaFlags is the bit set of flags carried by a journal metablock.
type MetaFlags uint32

func (f MetaFlags) Has(bit MetaFlags) bool { return f&bit != 0 }

func (f MetaFlags) String() string {
	s := ""
	for bit, name := range map[MetaFlags]string{
		MetaFlagMeta:     "meta",
		MetaFlagError:    "error",
		MetaFlagCorrupt:  "corrupt",
		MetaFlagStart:    "start",
		MetaFlagCommit:   "commit",
		MetaFlagComplete: "complete",
	} {
		if f.Has(bit) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Reference flag bits (JournalBlockRef.BFlags). Values match
// chickadeefs.hh's jbf_* constants.
const (
	// RefEscaped marks a reference whose on-disk data had its first 8 bytes
	// equal to JournalMagic and so was rewritten in the journal copy.
	RefEscaped RefFlags = 0x100
	// RefNonJournaled marks a reference present only to record a later
	// overwrite; no data block follows it in the journal.
	RefNonJournaled RefFlags = 0x200
	// RefOverwritten marks a reference superseded by a later transaction's
	// write to the same block number.
	RefOverwritten RefFlags = 0x400
)

// RefFlags is the bit set of flags carried by one journal block reference.
type RefFlags uint32

func (f RefFlags) Has(bit RefFlags) bool { return f&bit != 0 }

// JournalBlockRef is one {bn, checksum, bflags} entry in a metablock,
// referencing a data block that follows the metablock in journal-circular
// order.
type JournalBlockRef struct {
	BN       uint32
	Checksum uint32
	BFlags   RefFlags
}

// JournalMetaBlock is the parsed form of a journal metablock: transaction
// bookkeeping plus up to MaxJournalRefs block references.
type JournalMetaBlock struct {
	// JournalBN is the journal-relative block index this metablock occupies
	// (not part of the on-disk format; set by the caller during analysis).
	JournalBN int

	Magic            uint64
	Checksum         uint32
	Seq              uint16
	Tid              uint16
	CommitBoundary   uint16
	CompleteBoundary uint16
	Flags            MetaFlags
	NRef             uint16
	Refs             []JournalBlockRef
}

// ParseMetaBlock attempts to parse a 4096-byte journal block as a
// metablock. It returns (nil, false) if the magic doesn't match; it
// returns an error if the magic matches but the checksum fails (unless the
// checksum equals crc32cChecksumSentinel, which disables verification).
func ParseMetaBlock(data []byte, journalBN int) (*JournalMetaBlock, bool, error) {
	if len(data) < BlockSize {
		return nil, false, fmt.Errorf("chkfs: short journal block read")
	}
	magic := getLE64(data[0:8])
	if magic != JournalMagic {
		return nil, false, nil
	}
	m := &JournalMetaBlock{JournalBN: journalBN, Magic: magic}
	m.Checksum = getLE32(data[8:12])
	// data[12:16] is padding, not covered by any field.
	m.Seq = getLE16(data[16:18])
	m.Tid = getLE16(data[18:20])
	m.CommitBoundary = getLE16(data[20:22])
	m.CompleteBoundary = getLE16(data[22:24])
	m.Flags = MetaFlags(getLE16(data[24:26]))
	m.NRef = getLE16(data[26:28])

	if m.Checksum != crc32cChecksumSentinel {
		want := crc32cOf(data[16:BlockSize])
		if want != m.Checksum {
			return nil, true, fmt.Errorf("%w: metablock checksum mismatch", ErrJournalInvariant)
		}
	}

	nref := int(m.NRef)
	if nref > MaxJournalRefs {
		nref = MaxJournalRefs
	}
	m.Refs = make([]JournalBlockRef, nref)
	off := journalHeaderSize
	for i := 0; i < nref; i++ {
		m.Refs[i] = JournalBlockRef{
			BN:       getLE32(data[off : off+4]),
			Checksum: getLE32(data[off+4 : off+8]),
			BFlags:   RefFlags(getLE16(data[off+8 : off+10])),
		}
		off += journalRefSize
	}
	return m, true, nil
}

// MarshalBinary serializes the metablock to its 4096-byte on-disk form,
// computing a fresh CRC32C over bytes 16..4096.
func (m *JournalMetaBlock) MarshalBinary() ([]byte, error) {
	if len(m.Refs) > MaxJournalRefs {
		return nil, fmt.Errorf("chkfs: metablock carries %d refs, max %d", len(m.Refs), MaxJournalRefs)
	}
	data := make([]byte, BlockSize)
	putLE64(data[0:8], JournalMagic)
	putLE16(data[16:18], m.Seq)
	putLE16(data[18:20], m.Tid)
	putLE16(data[20:22], m.CommitBoundary)
	putLE16(data[22:24], m.CompleteBoundary)
	putLE16(data[24:26], uint16(m.Flags))
	putLE16(data[26:28], uint16(len(m.Refs)))

	off := journalHeaderSize
	for _, ref := range m.Refs {
		putLE32(data[off:off+4], ref.BN)
		putLE32(data[off+4:off+8], ref.Checksum)
		putLE16(data[off+8:off+10], uint16(ref.BFlags))
		off += journalRefSize
	}

	sum := crc32cOf(data[16:BlockSize])
	putLE32(data[8:12], sum)
	return data, nil
}

// tidDiff returns the signed 16-bit wrap-safe difference a-b, so that
// "tid a is before tid b" is well defined across 16-bit wraparound
// (spec.md §3 "Transaction identifiers").
func tidDiff(a, b uint16) int16 {
	return int16(a - b)
}

// tidLess reports whether tid a precedes tid b under wrap-safe comparison.
func tidLess(a, b uint16) bool {
	return tidDiff(a, b) < 0
}

// tidLessEq reports whether tid a precedes or equals tid b under wrap-safe
// comparison.
func tidLessEq(a, b uint16) bool {
	return tidDiff(a, b) <= 0
}
