package chkfs_test

import (
	"bytes"
	"testing"

	"github.com/mpucholblasco/chkfs"
)

func buildTestImage(t *testing.T) *memDisk {
	t.Helper()
	const nblocks, ninodes, nswap, njournal = 256, 32, 4, 32

	b := chkfs.NewBuilder(nblocks, ninodes, nswap, njournal)
	if err := b.Add("hello.txt", []byte("hello, chickadee\n")); err != nil {
		t.Fatalf("Add hello.txt: %v", err)
	}
	big := bytes.Repeat([]byte{0xab}, chkfs.BlockSize*3+17)
	if err := b.Add("big.bin", big); err != nil {
		t.Fatalf("Add big.bin: %v", err)
	}

	disk := newMemDisk(nblocks * chkfs.BlockSize)
	if err := b.Finalize(disk); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return disk
}

func TestBuilderProducesCleanImage(t *testing.T) {
	disk := buildTestImage(t)
	c := chkfs.NewChecker(chkfs.NewDisk(disk, nil))
	if err := c.Check(false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !c.OK() {
		t.Fatalf("expected a clean image, got errors: %v", c.Errors())
	}
}

func TestMountLookupAndReadFile(t *testing.T) {
	mem := buildTestImage(t)
	fs, err := chkfs.Mount(chkfs.NewDisk(mem, mem), chkfs.DefaultSlots)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}

	root, err := fs.Inode(chkfs.RootInode)
	if err != nil {
		t.Fatalf("Inode(root): %v", err)
	}
	defer fs.PutInode(root)

	child, err := fs.LookupInode(root, "hello.txt")
	if err != nil {
		t.Fatalf("LookupInode: %v", err)
	}
	defer fs.PutInode(child)

	if child.Inode.Type != uint16(chkfs.InodeTypeFile) {
		t.Fatalf("expected a file inode, got type %v", chkfs.Type(child.Inode.Type))
	}
	want := "hello, chickadee\n"
	if int(child.Inode.Size) != len(want) {
		t.Fatalf("size = %d, want %d", child.Inode.Size, len(want))
	}

	it := chkfs.NewFileIterator(fs.Cache, child)
	defer it.Close()
	if err := it.Find(0); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !it.Present() {
		t.Fatalf("expected block 0 to be present")
	}
	buf := make([]byte, chkfs.BlockSize)
	if err := fs.Disk.ReadBlock(it.BlockNum(), buf); err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if string(buf[:len(want)]) != want {
		t.Fatalf("file content = %q, want %q", buf[:len(want)], want)
	}
}

func TestMountLookupMissingName(t *testing.T) {
	mem := buildTestImage(t)
	fs, err := chkfs.Mount(chkfs.NewDisk(mem, mem), chkfs.DefaultSlots)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	root, err := fs.Inode(chkfs.RootInode)
	if err != nil {
		t.Fatalf("Inode(root): %v", err)
	}
	defer fs.PutInode(root)

	if _, err := fs.LookupInode(root, "does-not-exist"); err != chkfs.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMultiBlockFileIteratesDirectBlocks(t *testing.T) {
	mem := buildTestImage(t)
	fs, err := chkfs.Mount(chkfs.NewDisk(mem, mem), chkfs.DefaultSlots)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	root, err := fs.Inode(chkfs.RootInode)
	if err != nil {
		t.Fatalf("Inode(root): %v", err)
	}
	defer fs.PutInode(root)

	child, err := fs.LookupInode(root, "big.bin")
	if err != nil {
		t.Fatalf("LookupInode: %v", err)
	}
	defer fs.PutInode(child)

	it := chkfs.NewFileIterator(fs.Cache, child)
	defer it.Close()

	var seen int
	for off := int64(0); off < int64(child.Inode.Size); off += chkfs.BlockSize {
		if err := it.Find(off); err != nil {
			t.Fatalf("Find(%d): %v", off, err)
		}
		if !it.Present() {
			t.Fatalf("expected block at offset %d to be present", off)
		}
		seen++
	}
	if seen != 4 { // 3 full blocks + 17 trailing bytes
		t.Fatalf("expected 4 blocks, saw %d", seen)
	}
}

func TestCheckerDetectsFBBInconsistency(t *testing.T) {
	mem := buildTestImage(t)
	disk := chkfs.NewDisk(mem, mem)

	fs, err := chkfs.Mount(disk, chkfs.DefaultSlots)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	root, err := fs.Inode(chkfs.RootInode)
	if err != nil {
		t.Fatalf("Inode(root): %v", err)
	}
	bn := root.Inode.Direct[0]
	fs.PutInode(root)
	if err := fs.FreeExtent([]uint32{bn}); err != nil {
		t.Fatalf("FreeExtent: %v", err)
	}
	if err := fs.Cache.Sync(true); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	c := chkfs.NewChecker(disk)
	if err := c.Check(false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if c.OK() {
		t.Fatalf("expected the checker to flag the block marked free while still referenced")
	}
}

func TestFileIteratorReportsHoleAsNotPresent(t *testing.T) {
	mem := buildTestImage(t)
	disk := chkfs.NewDisk(mem, mem)
	fs, err := chkfs.Mount(disk, chkfs.DefaultSlots)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	root, err := fs.Inode(chkfs.RootInode)
	if err != nil {
		t.Fatalf("Inode(root): %v", err)
	}
	defer fs.PutInode(root)

	child, err := fs.LookupInode(root, "big.bin")
	if err != nil {
		t.Fatalf("LookupInode: %v", err)
	}
	child.Inode.Direct[1] = 0 // punch a hole in the second block
	if err := child.WriteBack(); err != nil {
		t.Fatalf("WriteBack: %v", err)
	}
	fs.PutInode(child)
	if err := fs.Cache.Sync(true); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	child2, err := fs.LookupInode(root, "big.bin")
	if err != nil {
		t.Fatalf("LookupInode: %v", err)
	}
	defer fs.PutInode(child2)

	it := chkfs.NewFileIterator(fs.Cache, child2)
	defer it.Close()
	if err := it.Find(chkfs.BlockSize); err != nil {
		t.Fatalf("Find: %v", err)
	}
	if it.Present() {
		t.Fatalf("expected the punched-out block to be absent")
	}

	c := chkfs.NewChecker(disk)
	if err := c.Check(false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	foundHoleWarning := false
	for _, w := range c.Warnings() {
		if w != "" {
			foundHoleWarning = true
		}
	}
	if !foundHoleWarning {
		t.Fatalf("expected at least a warning after punching a hole, got none")
	}
}
