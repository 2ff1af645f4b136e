package chkfs

import (
	"log"
	"sort"
)

// Replayer parses a contiguous in-memory copy of a journal region and
// replays its committed, non-overwritten writes. It mirrors the two-phase
// analyze/run design of journalreplayer.cc: Analyze never mutates
// anything and may be run against a read-only copy; Run emits callbacks.
type Replayer struct {
	// Blocks is the journal region, as NJournal whole 4096-byte blocks,
	// indexed 0..NJournal-1 (journal-circular order).
	Blocks [][]byte

	metablocks []*JournalMetaBlock // accepted, seq-ordered
	lastCommit uint16
	lastComplete uint16
}

// NewReplayer constructs a Replayer over njournal whole blocks copied from
// the journal region starting at journal_bn.
func NewReplayer(blocks [][]byte) *Replayer {
	return &Replayer{Blocks: blocks}
}

// potentialMetaAt reports whether Blocks[i] parses as a potential
// metablock: magic matches and CRC32C of bytes 16..4096 matches (or the
// checksum sentinel disables verification). A magic mismatch returns
// (nil, false, nil); a checksum mismatch is reported as an error so the
// caller can distinguish "not a metablock" from "corrupt metablock".
func (r *Replayer) potentialMetaAt(i int) (*JournalMetaBlock, bool, error) {
	if i < 0 || i >= len(r.Blocks) {
		return nil, false, nil
	}
	return ParseMetaBlock(r.Blocks[i], i)
}

// Analyze performs the five-step analysis phase of spec.md §4.2: metablock
// discovery, per-metablock validation, sequence ordering, transaction
// integrity, and overwrite elision. It never mutates Blocks. On success,
// Run may be called to apply the resulting write set.
func (r *Replayer) Analyze() error {
	n := len(r.Blocks)
	candidates := make(map[int]*JournalMetaBlock)

	// Step 1: metablock discovery.
	for i := 0; i < n; i++ {
		m, ok, err := r.potentialMetaAt(i)
		if err != nil {
			// Checksum failure: not retained as a candidate at all.
			continue
		}
		if !ok {
			continue
		}
		candidates[i] = m
	}

	// Step 2: per-metablock validation.
	for i, m := range candidates {
		if !m.Flags.Has(MetaFlagMeta) || m.Flags.Has(MetaFlagError) || m.Flags.Has(MetaFlagCorrupt) || len(m.Refs) > MaxJournalRefs {
			m.Flags |= MetaFlagError
		}

		delta := 1
		for _, ref := range m.Refs {
			if ref.BFlags.Has(RefNonJournaled) {
				continue
			}
			dataIdx := (i + delta) % n
			delta++

			if _, ok, err := r.potentialMetaAt(dataIdx); err == nil && ok && !ref.BFlags.Has(RefEscaped) {
				m.Flags |= MetaFlagError
				continue
			}
			if !r.dataChecksumOK(dataIdx, ref) {
				m.Flags |= MetaFlagError
			}
		}
	}

	// Step 3: sequence ordering.
	var ordered []*JournalMetaBlock
	for _, m := range candidates {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(a, b int) bool {
		return tidDiffSeq(ordered[a].Seq, ordered[b].Seq) < 0
	})

	seen := map[uint16]bool{}
	for idx, m := range ordered {
		if seen[m.Seq] {
			return ErrJournalInvariant
		}
		seen[m.Seq] = true
		if idx > 0 {
			prev := ordered[idx-1]
			if tidLess(m.CommitBoundary, prev.CommitBoundary) {
				return ErrJournalInvariant
			}
			if tidLess(m.CompleteBoundary, prev.CompleteBoundary) {
				return ErrJournalInvariant
			}
		}
		if tidLess(m.CommitBoundary, m.CompleteBoundary) {
			return ErrJournalInvariant
		}
		if len(m.Refs) > 0 {
			if idx > 0 && tidLess(m.Tid, ordered[idx-1].CommitBoundary) {
				m.Flags |= MetaFlagError
			}
			if tidLess(m.Tid, m.CompleteBoundary) {
				m.Flags |= MetaFlagError
			}
		}
		if m.Flags.Has(MetaFlagComplete) && !tidLess(m.Tid, m.CompleteBoundary) {
			m.Flags |= MetaFlagError
		}
		if m.Flags.Has(MetaFlagCommit) && !tidLess(m.Tid, m.CommitBoundary) {
			m.Flags |= MetaFlagError
		}
	}

	if len(ordered) == 0 {
		r.metablocks = nil
		return nil
	}

	last := ordered[len(ordered)-1]
	r.lastCommit = last.CommitBoundary
	r.lastComplete = last.CompleteBoundary

	// Step 4: transaction integrity, per tid in [complete, commit).
	byTid := map[uint16][]*JournalMetaBlock{}
	for _, m := range ordered {
		if !m.Flags.Has(MetaFlagError) {
			byTid[m.Tid] = append(byTid[m.Tid], m)
		}
	}
	for tid, group := range byTid {
		if !inHalfOpenWrap(tid, r.lastComplete, r.lastCommit) {
			continue
		}
		sort.Slice(group, func(a, b int) bool { return tidDiffSeq(group[a].Seq, group[b].Seq) < 0 })

		starts, commits := 0, 0
		for gi, m := range group {
			if m.Flags.Has(MetaFlagStart) {
				starts++
				if gi != 0 {
					return ErrJournalInvariant
				}
			}
			if m.Flags.Has(MetaFlagCommit) {
				commits++
				if len(m.Refs) > 0 && gi != len(group)-1 {
					for _, later := range group[gi+1:] {
						if len(later.Refs) > 0 {
							return ErrJournalInvariant
						}
					}
				}
			}
		}
		if starts != 1 || commits < 1 {
			return ErrJournalInvariant
		}
	}

	// Step 5: overwrite elision, newest to oldest.
	writtenTo := map[uint32]bool{}
	for i := len(ordered) - 1; i >= 0; i-- {
		m := ordered[i]
		if m.Flags.Has(MetaFlagError) {
			continue
		}
		for ri := range m.Refs {
			ref := &m.Refs[ri]
			if ref.BFlags.Has(RefNonJournaled) {
				continue
			}
			if writtenTo[ref.BN] {
				ref.BFlags |= RefOverwritten
			} else {
				writtenTo[ref.BN] = true
			}
		}
	}

	r.metablocks = ordered
	return nil
}

// dataChecksumOK reports whether the data block at journal index dataIdx
// matches ref's recorded checksum, accounting for the escape encoding.
func (r *Replayer) dataChecksumOK(dataIdx int, ref JournalBlockRef) bool {
	if dataIdx < 0 || dataIdx >= len(r.Blocks) {
		return false
	}
	buf := r.Blocks[dataIdx]
	if ref.BFlags.Has(RefEscaped) {
		patched := make([]byte, len(buf))
		copy(patched, buf)
		putLE64(patched[0:8], JournalMagic)
		return crc32cOf(patched) == ref.Checksum
	}
	return crc32cOf(buf) == ref.Checksum
}

// tidDiffSeq compares two sequence numbers with the same wrap-safe rule
// used for transaction ids (spec.md §3).
func tidDiffSeq(a, b uint16) int16 { return tidDiff(a, b) }

// inHalfOpenWrap reports whether x lies in the half-open wrap-safe range
// [lo, hi).
func inHalfOpenWrap(x, lo, hi uint16) bool {
	return tidLessEq(lo, x) && tidLess(x, hi)
}

// WriteBlockFunc is called once per block that must be applied to the main
// filesystem area during replay.
type WriteBlockFunc func(bn uint32, data []byte)

// Run performs the apply phase of spec.md §4.2: iterate metablocks in seq
// order and, for every reference whose tid lies in
// [complete_boundary, commit_boundary) and that is neither overwritten nor
// nonjournaled, emit writeBlock with the (possibly unescaped) data. After
// all writes, complete is invoked exactly once.
func (r *Replayer) Run(writeBlock WriteBlockFunc, complete func()) {
	applied := 0
	for _, m := range r.metablocks {
		if m.Flags.Has(MetaFlagError) {
			continue
		}
		if !inHalfOpenWrap(m.Tid, r.lastComplete, r.lastCommit) {
			continue
		}
		applied++
		delta := 1
		for _, ref := range m.Refs {
			if ref.BFlags.Has(RefNonJournaled) {
				continue
			}
			dataIdx := (m.JournalBN + delta) % len(r.Blocks)
			delta++

			if ref.BFlags.Has(RefOverwritten) {
				continue
			}

			buf := make([]byte, BlockSize)
			copy(buf, r.Blocks[dataIdx])
			if ref.BFlags.Has(RefEscaped) {
				putLE64(buf[0:8], JournalMagic)
			}
			writeBlock(ref.BN, buf)
		}
	}
	complete()
	log.Printf("chkfs: journal replay complete, %d metablocks applied", applied)
}
