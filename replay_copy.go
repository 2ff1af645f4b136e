package chkfs

// replayJournalCopy replays sb's journal via ordinary ReadBlock/WriteBlock
// calls. It is the portable fallback used by checker_fallback.go on
// non-unix platforms, and by checker_mmap.go when the Disk isn't backed
// by a mmapable *os.File (e.g. an in-memory image under test).
func replayJournalCopy(disk *Disk, sb *Superblock) error {
	blocks, err := readJournalBlocks(disk, sb)
	if err != nil {
		return err
	}
	r := NewReplayer(blocks)
	if err := r.Analyze(); err != nil {
		return err
	}

	var runErr error
	r.Run(func(bn uint32, buf []byte) {
		if runErr != nil {
			return
		}
		runErr = disk.WriteBlock(bn, buf)
	}, func() {
		if runErr != nil {
			return
		}
		zero := make([]byte, BlockSize)
		for i := uint32(0); i < sb.NJournal; i++ {
			if err := disk.WriteBlock(sb.JournalBN+i, zero); err != nil {
				runErr = err
				return
			}
		}
	})
	return runErr
}
