package chkfs

// FileIterator translates file-byte offsets into data-block numbers
// through an inode's direct/indirect/indirect2 tree, caching the
// buffer-cache reference for whichever indirect block is currently in
// scope (spec.md §4.4), the way k-chkfsiter.cc's chkfs_fileiter does.
type FileIterator struct {
	cache *BufCache
	inode *CachedInode

	off     int64
	iclass  int // 0 = direct, 1 = first indirect, >=2 = indirect2 slot+2
	indSlot *Slot
}

// NewFileIterator creates an iterator over ino, initially unpositioned.
func NewFileIterator(cache *BufCache, ino *CachedInode) *FileIterator {
	return &FileIterator{cache: cache, inode: ino, iclass: -1}
}

// blockIndex returns the file block index for the iterator's current
// offset.
func (it *FileIterator) blockIndex() int64 {
	return it.off / BlockSize
}

// classOf returns the indirect class for file block index bi, per spec.md
// §4.4: 0 = direct, 1 = first-level indirect, k>=2 = which slot in
// indirect2 (offset by 2 so "no indirect2 block loaded yet" can use -1).
func classOf(bi int64) int {
	switch {
	case bi < NDirect:
		return 0
	case bi < NDirect+NIndirect:
		return 1
	default:
		return 2 + int((bi-NDirect-NIndirect)/NIndirect)
	}
}

// Find positions the iterator at byte offset off. It never fails even if
// no block is mapped there; call Present to check.
func (it *FileIterator) Find(off int64) error {
	it.off = off
	return it.syncIndirect()
}

// syncIndirect loads (or releases) the cached indirect-block reference so
// it matches the class of the current offset.
func (it *FileIterator) syncIndirect() error {
	bi := it.blockIndex()
	class := classOf(bi)
	// A matching class alone isn't enough to short-circuit: Map may have
	// just allocated the indirect block that was missing (indSlot == nil)
	// when this class was first entered, and the newly allocated block
	// still needs to be loaded.
	if class == it.iclass && (class == 0 || it.indSlot != nil) {
		return nil
	}
	if it.indSlot != nil {
		it.cache.Release(it.indSlot)
		it.indSlot = nil
	}
	it.iclass = class
	if class == 0 {
		return nil
	}
	var bn uint32
	if class == 1 {
		bn = it.inode.Inode.Indirect
	} else {
		if it.inode.Inode.Indirect2 == 0 {
			return nil
		}
		i2, err := it.cache.Load(it.inode.Inode.Indirect2, nil)
		if err != nil {
			return err
		}
		slotIdx := (bi - NDirect - NIndirect) / NIndirect
		bn = getLE32(i2.Bytes()[slotIdx*4 : slotIdx*4+4])
		it.cache.Release(i2)
	}
	if bn == 0 {
		return nil
	}
	slot, err := it.cache.Load(bn, nil)
	if err != nil {
		return err
	}
	it.indSlot = slot
	return nil
}

// Present reports whether a data block is mapped at the iterator's
// current offset.
func (it *FileIterator) Present() bool {
	return it.BlockNum() != 0
}

// BlockNum returns the data block number at the current offset, or 0 if
// none is mapped.
func (it *FileIterator) BlockNum() uint32 {
	bi := it.blockIndex()
	switch {
	case bi < NDirect:
		return it.inode.Inode.Direct[bi]
	case it.indSlot == nil:
		return 0
	default:
		var slotIdx int64
		if bi < NDirect+NIndirect {
			slotIdx = bi - NDirect
		} else {
			slotIdx = (bi - NDirect - NIndirect) % NIndirect
		}
		buf := it.indSlot.Bytes()
		return getLE32(buf[slotIdx*4 : slotIdx*4+4])
	}
}

// Next advances the iterator to the next present block, or positions it
// past end-of-file if none remains within MaxFileBlocks.
func (it *FileIterator) Next() error {
	for {
		it.off += BlockSize
		if it.blockIndex() >= MaxFileBlocks {
			return nil
		}
		if err := it.syncIndirect(); err != nil {
			return err
		}
		if it.Present() {
			return nil
		}
	}
}

// Close releases any cached indirect-block reference. Safe to call more
// than once.
func (it *FileIterator) Close() {
	if it.indSlot != nil {
		it.cache.Release(it.indSlot)
		it.indSlot = nil
	}
	it.iclass = -1
}

// Map installs bn as the data-block mapping for the iterator's current
// offset, allocating indirect and indirect2 blocks as needed. The caller
// must hold the inode's write lock. New indirect/indirect2 blocks are
// zeroed before being linked, as spec.md §4.4 requires.
func (it *FileIterator) Map(alloc func() (uint32, error), bn uint32) error {
	bi := it.blockIndex()

	if bi < NDirect {
		it.inode.Inode.Direct[bi] = bn
		return nil
	}

	if it.inode.Inode.Indirect == 0 && bi < NDirect+NIndirect {
		nbn, err := it.allocZeroed(alloc)
		if err != nil {
			return err
		}
		it.inode.Inode.Indirect = nbn
	}

	if bi < NDirect+NIndirect {
		if err := it.syncIndirect(); err != nil {
			return err
		}
		return it.writeIndirectSlot(it.indSlot, bi-NDirect, bn)
	}

	if it.inode.Inode.Indirect2 == 0 {
		nbn, err := it.allocZeroed(alloc)
		if err != nil {
			return err
		}
		it.inode.Inode.Indirect2 = nbn
	}

	i2, err := it.cache.Load(it.inode.Inode.Indirect2, nil)
	if err != nil {
		return err
	}
	slotIdx := int((bi - NDirect - NIndirect) / NIndirect)
	indBN := getLE32(i2.Bytes()[slotIdx*4 : slotIdx*4+4])
	if indBN == 0 {
		indBN, err = it.allocZeroed(alloc)
		if err != nil {
			it.cache.Release(i2)
			return err
		}
		putLE32(i2.Bytes()[slotIdx*4:slotIdx*4+4], indBN)
		i2.MarkDirty()
	}
	it.cache.Release(i2)

	if err := it.syncIndirect(); err != nil {
		return err
	}
	return it.writeIndirectSlot(it.indSlot, (bi-NDirect-NIndirect)%NIndirect, bn)
}

// allocZeroed allocates a fresh block via alloc and loads+zeroes it in the
// buffer cache before returning its block number.
func (it *FileIterator) allocZeroed(alloc func() (uint32, error)) (uint32, error) {
	bn, err := alloc()
	if err != nil {
		return 0, err
	}
	slot, err := it.cache.Load(bn, nil)
	if err != nil {
		return 0, err
	}
	buf := slot.Bytes()
	for i := range buf {
		buf[i] = 0
	}
	slot.MarkDirty()
	it.cache.Release(slot)
	return bn, nil
}

func (it *FileIterator) writeIndirectSlot(slot *Slot, idx int64, bn uint32) error {
	if slot == nil {
		return ErrNoSpace
	}
	buf := slot.Bytes()
	putLE32(buf[idx*4:idx*4+4], bn)
	slot.MarkDirty()
	return nil
}
