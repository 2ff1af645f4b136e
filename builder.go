package chkfs

import (
	"fmt"
	"log"
)

// ReadWriterAt is the minimal interface Finalize needs from its output:
// random-access reads (for the inode table's read-modify-write updates)
// and random-access writes. In practice this is always the open output
// file (*os.File satisfies both io.ReaderAt and io.WriterAt).
type ReadWriterAt interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// buildFile is one input file accumulated by a Builder, named after the
// teacher's writerInode accumulator in writer.go (an in-memory build
// model kept separate from final on-disk serialization).
type buildFile struct {
	name string
	data []byte
}

// Builder constructs a fresh, consistent chkfs image from a boot sector,
// a list of named files, and geometry parameters (spec.md §4.6), the way
// mkchickadeefs.cc's main() does, restructured into the accumulate/
// Finalize split the teacher's Writer uses (writer.go: Add, then
// Finalize).
type Builder struct {
	NBlocks    uint32
	NInodes    uint32
	NSwap      uint32
	NJournal   uint32
	BootSector []byte

	files []buildFile
}

// NewBuilder creates a Builder for an image with the given geometry.
func NewBuilder(nblocks, ninodes, nswap, njournal uint32) *Builder {
	return &Builder{NBlocks: nblocks, NInodes: ninodes, NSwap: nswap, NJournal: njournal}
}

// Add accumulates one input file under name, to be placed in the root
// directory. It does not touch the output; call Finalize once all files
// are added.
func (b *Builder) Add(name string, data []byte) error {
	if err := ValidName(name); err != nil {
		return err
	}
	if len(data) > MaxFileSize {
		return ErrFileTooLarge
	}
	b.files = append(b.files, buildFile{name: name, data: data})
	return nil
}

// geometry computes the region layout of spec.md §3/§6 from the
// builder's parameters.
type geometry struct {
	fbbBN, inodeBN, dataBN, journalBN uint32
	fbbBlocks, inodeBlocks            uint32
}

func (b *Builder) geometry() geometry {
	var g geometry
	g.fbbBlocks = uint32(ceilDiv(uint64(b.NBlocks), BlockSize*8))
	g.inodeBlocks = uint32(ceilDiv(uint64(b.NInodes)*InodeSize, BlockSize))

	g.fbbBN = SwapBlock + b.NSwap
	g.inodeBN = g.fbbBN + g.fbbBlocks
	g.dataBN = g.inodeBN + g.inodeBlocks
	g.journalBN = b.NBlocks - b.NJournal
	return g
}

// Finalize writes the complete image to w, implementing the five steps of
// spec.md §4.6.
func (b *Builder) Finalize(w ReadWriterAt) error {
	if len(b.BootSector) > 510 {
		return ErrBootSectorTooLarge
	}
	if len(b.files) > int(b.NInodes)-2 {
		return ErrTooManyFiles
	}

	g := b.geometry()
	if g.journalBN < g.dataBN {
		return fmt.Errorf("%w: not enough blocks for data area", ErrBadGeometry)
	}
	log.Printf("chkfs: building image nblocks=%d ninodes=%d fbb_bn=%d inode_bn=%d data_bn=%d journal_bn=%d",
		b.NBlocks, b.NInodes, g.fbbBN, g.inodeBN, g.dataBN, g.journalBN)

	disk := NewDisk(w, w)

	// Step 2: zero boot sector + superblock block, and every metadata block.
	if err := b.zeroRegion(disk, 0, g.dataBN); err != nil {
		return err
	}

	nextData := g.dataBN
	inodes := make(map[uint32]*Inode) // inum -> inode, written after allocation
	var rootEntries []Dirent

	// Step 3: for each input file, allocate blocks, copy bytes, write the inode.
	for idx, f := range b.files {
		inum := uint32(2 + idx) // inode 1 is root
		ino := &Inode{Type: uint16(InodeTypeFile), NLink: 1, Size: uint64(len(f.data))}

		nblocks := int(ceilDiv(uint64(len(f.data)), BlockSize))
		var blockNums []uint32
		for i := 0; i < nblocks; i++ {
			bn := nextData
			nextData++
			if nextData > g.journalBN {
				return ErrNoSpace
			}
			blockNums = append(blockNums, bn)
		}

		if err := b.writeFileData(disk, ino, blockNums, f.data, &nextData, g.journalBN); err != nil {
			return err
		}
		inodes[inum] = ino
		rootEntries = append(rootEntries, Dirent{Inum: inum, Name: f.name})
	}

	// Step 4: write the root directory, padded to a block multiple.
	rootSize := ceilDiv(uint64(len(rootEntries))*DirentSize, BlockSize) * BlockSize
	rootIno := &Inode{Type: uint16(InodeTypeDir), NLink: 1, Size: rootSize}
	rootBlocks := int(rootSize / BlockSize)
	var rootBlockNums []uint32
	for i := 0; i < rootBlocks; i++ {
		bn := nextData
		nextData++
		if nextData > g.journalBN {
			return ErrNoSpace
		}
		rootBlockNums = append(rootBlockNums, bn)
	}
	if err := b.writeRootDir(disk, rootIno, rootBlockNums, rootEntries); err != nil {
		return err
	}
	inodes[RootInode] = rootIno

	// Write all inodes (including root) to the inode table.
	for inum, ino := range inodes {
		if err := b.writeInode(disk, g.inodeBN, inum, ino); err != nil {
			return err
		}
	}

	// Step 5: initialize the FBB.
	if err := b.writeFBB(disk, g, nextData); err != nil {
		return err
	}

	// Superblock, written last so a crash mid-build never produces a
	// magic-valid-but-half-written image.
	sb := &Superblock{
		Magic: SuperblockMagic, NBlocks: b.NBlocks, NSwap: b.NSwap, NInodes: b.NInodes,
		NJournal: b.NJournal, SwapBN: SwapBlock, FBBBN: g.fbbBN, InodeBN: g.inodeBN,
		DataBN: g.dataBN, JournalBN: g.journalBN,
	}
	return b.writeSuperblock(disk, sb)
}

func (b *Builder) zeroRegion(disk *Disk, from, to uint32) error {
	zero := make([]byte, BlockSize)
	for bn := from; bn < to; bn++ {
		if err := disk.WriteBlock(bn, zero); err != nil {
			return err
		}
	}
	return nil
}

// allocMeta allocates one fresh metadata block (an indirect or indirect2
// block) from the data area, failing if it would collide with the
// journal region.
func allocMeta(nextData *uint32, journalBN uint32) (uint32, error) {
	bn := *nextData
	*nextData++
	if *nextData > journalBN {
		return 0, ErrNoSpace
	}
	return bn, nil
}

func (b *Builder) writeFileData(disk *Disk, ino *Inode, blockNums []uint32, data []byte, nextData *uint32, journalBN uint32) error {
	if len(blockNums) > MaxFileBlocks {
		return ErrFileTooLarge
	}

	for i := 0; i < len(blockNums) && i < NDirect; i++ {
		ino.Direct[i] = blockNums[i]
	}

	if len(blockNums) > NDirect {
		indBN, err := allocMeta(nextData, journalBN)
		if err != nil {
			return err
		}
		ino.Indirect = indBN
		buf := make([]byte, BlockSize)
		rest := blockNums[NDirect:]
		n := len(rest)
		if n > NIndirect {
			n = NIndirect
		}
		for i := 0; i < n; i++ {
			putLE32(buf[i*4:i*4+4], rest[i])
		}
		if err := disk.WriteBlock(indBN, buf); err != nil {
			return err
		}
	}

	if len(blockNums) > NDirect+NIndirect {
		i2BN, err := allocMeta(nextData, journalBN)
		if err != nil {
			return err
		}
		ino.Indirect2 = i2BN
		rest := blockNums[NDirect+NIndirect:]
		i2buf := make([]byte, BlockSize)
		for slot := 0; slot*NIndirect < len(rest); slot++ {
			indBN, err := allocMeta(nextData, journalBN)
			if err != nil {
				return err
			}
			putLE32(i2buf[slot*4:slot*4+4], indBN)

			chunk := rest[slot*NIndirect:]
			if len(chunk) > NIndirect {
				chunk = chunk[:NIndirect]
			}
			buf := make([]byte, BlockSize)
			for i, bn := range chunk {
				putLE32(buf[i*4:i*4+4], bn)
			}
			if err := disk.WriteBlock(indBN, buf); err != nil {
				return err
			}
		}
		if err := disk.WriteBlock(i2BN, i2buf); err != nil {
			return err
		}
	}

	off := int64(0)
	for _, bn := range blockNums {
		end := off + BlockSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		buf := make([]byte, BlockSize)
		copy(buf, data[off:end])
		if err := disk.WriteBlock(bn, buf); err != nil {
			return err
		}
		off = end
	}
	return nil
}

func (b *Builder) writeRootDir(disk *Disk, ino *Inode, blockNums []uint32, entries []Dirent) error {
	for i, bn := range blockNums {
		if i < NDirect {
			ino.Direct[i] = bn
		} else {
			return ErrTooManyFiles // root directory too large for direct-only layout
		}
	}
	bufs := make([][]byte, len(blockNums))
	for i := range bufs {
		bufs[i] = make([]byte, BlockSize)
	}
	for i, de := range entries {
		blockIdx := i * DirentSize / BlockSize
		within := i * DirentSize % BlockSize
		raw, err := de.MarshalBinary()
		if err != nil {
			return err
		}
		copy(bufs[blockIdx][within:within+DirentSize], raw)
	}
	for i, bn := range blockNums {
		if err := disk.WriteBlock(bn, bufs[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeInode(disk *Disk, inodeBN uint32, inum uint32, ino *Inode) error {
	byteOff := int64(inum) * InodeSize
	bn := inodeBN + uint32(byteOff/BlockSize)
	within := int(byteOff % BlockSize)

	buf := make([]byte, BlockSize)
	if err := disk.ReadBlock(bn, buf); err != nil {
		return err
	}
	raw, err := ino.MarshalBinary()
	if err != nil {
		return err
	}
	copy(buf[within:within+InodeSize], raw)
	return disk.WriteBlock(bn, buf)
}

// writeFBB initializes the free-block bitmap: blocks in [0, firstFree) are
// allocated (bit 0), blocks in [firstFree, nblocks) are free (bit 1), and
// bits beyond nblocks within the last byte are defined as free.
func (b *Builder) writeFBB(disk *Disk, g geometry, firstFree uint32) error {
	totalBits := g.fbbBlocks * BlockSize * 8
	buf := make([]byte, g.fbbBlocks*BlockSize)
	for i := range buf {
		buf[i] = 0xff // default: free
	}
	for bn := uint32(0); bn < firstFree && bn < totalBits; bn++ {
		buf[bn/8] &^= 1 << (bn % 8)
	}
	for bn := firstFree; bn < b.NBlocks; bn++ {
		buf[bn/8] |= 1 << (bn % 8)
	}
	for i := uint32(0); i < g.fbbBlocks; i++ {
		if err := disk.WriteBlock(g.fbbBN+i, buf[i*BlockSize:(i+1)*BlockSize]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeSuperblock(disk *Disk, sb *Superblock) error {
	buf := make([]byte, BlockSize)
	if len(b.BootSector) > 0 {
		copy(buf, b.BootSector)
	}
	buf[510] = 0x55
	buf[511] = 0xAA
	raw, err := sb.MarshalBinary()
	if err != nil {
		return err
	}
	copy(buf[SuperblockOffset:], raw)
	return disk.WriteBlock(0, buf)
}
