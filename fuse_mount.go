//go:build fuse

package chkfs

import (
	"context"
	"log"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fuseNode adapts one inode of a ReadOnlyFS to go-fuse's node API, the
// way inode_fuse.go adapts a squashfs Inode to github.com/hanwen/go-fuse/v2/fuse
// (Lookup/Open/OpenDir/ReadDir). This front-end is debugging tooling
// layered on the same FS façade spec.md already defines: it never
// mutates the image.
type fuseNode struct {
	gofs.Inode
	rfs *ReadOnlyFS
	ci  *CachedInode
}

var (
	_ gofs.NodeLookuper  = (*fuseNode)(nil)
	_ gofs.NodeReaddirer = (*fuseNode)(nil)
	_ gofs.NodeOpener    = (*fuseNode)(nil)
	_ gofs.NodeReader    = (*fuseNode)(nil)
	_ gofs.NodeGetattrer = (*fuseNode)(nil)
)

func (n *fuseNode) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Size = n.ci.Inode.Size
	out.Mode = fileModeFor(n.ci.Inode.Type)
	out.Nlink = n.ci.Inode.NLink
	return 0
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	child, err := n.rfs.FS.LookupInode(n.ci, name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	out.Mode = fileModeFor(child.Inode.Type)
	out.Size = child.Inode.Size
	childNode := &fuseNode{rfs: n.rfs, ci: child}
	stable := gofs.StableAttr{Mode: out.Mode, Ino: uint64(child.Num)}
	return n.NewInode(ctx, childNode, stable), 0
}

func (n *fuseNode) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	entries, err := n.rfs.dirents(n.ci)
	if err != nil {
		return nil, syscall.EIO
	}
	var list []fuse.DirEntry
	for _, de := range entries {
		if de.IsTombstone() {
			continue
		}
		child, err := n.rfs.FS.Inode(de.Inum)
		if err != nil {
			continue
		}
		list = append(list, fuse.DirEntry{Name: de.Name, Ino: uint64(de.Inum), Mode: fileModeFor(child.Inode.Type)})
		n.rfs.FS.PutInode(child)
	}
	return gofs.NewListDirStream(list), 0
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *fuseNode) Read(ctx context.Context, f gofs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	file := &chkfsFile{fs: n.rfs.FS, ci: n.ci}
	nr, err := file.ReadAt(dest, off)
	if err != nil && nr == 0 {
		return nil, 0
	}
	return fuse.ReadResultData(dest[:nr]), 0
}

func fileModeFor(t uint16) uint32 {
	if t == uint16(InodeTypeDir) {
		return fuse.S_IFDIR | 0555
	}
	return fuse.S_IFREG | 0444
}

// MountFUSE mounts image read-only at mountpoint, serving until the returned
// server's Unmount is called or the process receives a signal go-fuse
// handles internally.
func MountFUSE(image *FS, mountpoint string) (*fuse.Server, error) {
	root, err := image.Inode(RootInode)
	if err != nil {
		return nil, err
	}
	rfs := &ReadOnlyFS{FS: image}
	rootNode := &fuseNode{rfs: rfs, ci: root}

	server, err := gofs.Mount(mountpoint, rootNode, &gofs.Options{
		MountOptions: fuse.MountOptions{
			FsName:   "chkfs",
			Name:     "chkfs",
			ReadOnly: true,
		},
	})
	if err != nil {
		return nil, err
	}
	log.Printf("chkfs: mounted read-only at %s", mountpoint)
	return server, nil
}
