//go:build unix

package chkfs

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// replayJournal replays sb's journal in place by mmapping the backing
// file MAP_SHARED and msyncing it after the apply phase, mirroring
// chickadeefsck.cc's use of mmap/msync for in-place replay. It requires
// disk to be backed by an *os.File (the only way to get a file
// descriptor to mmap); other Disk backings fall back to a copy-based
// replay via replayJournalCopy.
func replayJournal(disk *Disk, sb *Superblock) error {
	f, ok := diskFile(disk)
	if !ok {
		return replayJournalCopy(disk, sb)
	}

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := int(fi.Size())
	if size == 0 {
		return replayJournalCopy(disk, sb)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("chkfs: mmap: %w", err)
	}
	defer unix.Munmap(data)

	journalStart := int(sb.JournalBN) * BlockSize
	journalEnd := journalStart + int(sb.NJournal)*BlockSize
	if journalEnd > len(data) {
		return fmt.Errorf("chkfs: journal region exceeds file size")
	}

	blocks := make([][]byte, sb.NJournal)
	for i := range blocks {
		start := journalStart + i*BlockSize
		blocks[i] = data[start : start+BlockSize]
	}

	r := NewReplayer(blocks)
	if err := r.Analyze(); err != nil {
		return err
	}

	r.Run(func(bn uint32, buf []byte) {
		start := int(bn) * BlockSize
		copy(data[start:start+BlockSize], buf)
	}, func() {
		for i := journalStart; i < journalEnd; i++ {
			data[i] = 0
		}
	})

	return unix.Msync(data, unix.MS_SYNC)
}

// diskFile extracts the *os.File backing disk, if any.
func diskFile(disk *Disk) (*os.File, bool) {
	if f, ok := disk.r.(*os.File); ok {
		return f, true
	}
	if f, ok := disk.w.(*os.File); ok {
		return f, true
	}
	return nil, false
}
