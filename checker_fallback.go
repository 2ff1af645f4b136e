//go:build !unix

package chkfs

// replayJournal replays sb's journal via a read-modify-write copy, for
// platforms without golang.org/x/sys/unix's mmap support.
func replayJournal(disk *Disk, sb *Superblock) error {
	return replayJournalCopy(disk, sb)
}
