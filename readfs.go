package chkfs

import (
	"io"
	"io/fs"
	"time"
)

// ReadOnlyFS adapts an FS façade to the standard io/fs.FS/io/fs.ReadDirFS
// interfaces, the way the teacher's Superblock implements fs.FS directly
// (squashfs_test.go exercises it via fs.WalkDir/fs.ReadFile). It never
// writes; mutation in chkfs only happens through the journal (spec.md
// §5), which this read-only browsing layer never drives.
type ReadOnlyFS struct {
	FS *FS
}

// Open implements fs.FS.
func (r *ReadOnlyFS) Open(name string) (fs.File, error) {
	ci, err := r.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &chkfsFile{fs: r.FS, ci: ci}, nil
}

// ReadDir implements fs.ReadDirFS.
func (r *ReadOnlyFS) ReadDir(name string) ([]fs.DirEntry, error) {
	ci, err := r.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	defer r.FS.PutInode(ci)
	if ci.Inode.Type != uint16(InodeTypeDir) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDirectory}
	}

	entries, err := r.dirents(ci)
	if err != nil {
		return nil, err
	}
	out := make([]fs.DirEntry, 0, len(entries))
	for _, de := range entries {
		if de.IsTombstone() {
			continue
		}
		child, err := r.FS.Inode(de.Inum)
		if err != nil {
			continue
		}
		out = append(out, chkfsDirEntry{name: de.Name, ino: child.Inode})
		r.FS.PutInode(child)
	}
	return out, nil
}

func (r *ReadOnlyFS) dirents(dir *CachedInode) ([]Dirent, error) {
	var out []Dirent
	it := NewFileIterator(r.FS.Cache, dir)
	defer it.Close()
	size := int64(dir.Inode.Size)
	for off := int64(0); off < size; off += BlockSize {
		if err := it.Find(off); err != nil {
			return nil, err
		}
		bn := it.BlockNum()
		if bn == 0 {
			continue
		}
		slot, err := r.FS.Cache.Load(bn, nil)
		if err != nil {
			return nil, err
		}
		buf := slot.Bytes()
		for eoff := 0; eoff+DirentSize <= BlockSize; eoff += DirentSize {
			var de Dirent
			if err := de.UnmarshalBinary(buf[eoff : eoff+DirentSize]); err != nil {
				r.FS.Cache.Release(slot)
				return nil, err
			}
			out = append(out, de)
		}
		r.FS.Cache.Release(slot)
	}
	return out, nil
}

func (r *ReadOnlyFS) lookup(name string) (*CachedInode, error) {
	root, err := r.FS.Inode(RootInode)
	if err != nil {
		return nil, err
	}
	if name == "." || name == "" {
		return root, nil
	}
	cur := root
	for _, part := range splitPath(name) {
		next, err := r.FS.LookupInode(cur, part)
		r.FS.PutInode(cur)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func splitPath(name string) []string {
	var parts []string
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '/' {
			if i > start {
				parts = append(parts, name[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

type chkfsDirEntry struct {
	name string
	ino  Inode
}

func (e chkfsDirEntry) Name() string { return e.name }
func (e chkfsDirEntry) IsDir() bool  { return e.ino.Type == uint16(InodeTypeDir) }
func (e chkfsDirEntry) Type() fs.FileMode {
	if e.IsDir() {
		return fs.ModeDir
	}
	return 0
}
func (e chkfsDirEntry) Info() (fs.FileInfo, error) {
	return chkfsFileInfo{name: e.name, ino: e.ino}, nil
}

type chkfsFileInfo struct {
	name string
	ino  Inode
}

func (i chkfsFileInfo) Name() string       { return i.name }
func (i chkfsFileInfo) Size() int64        { return int64(i.ino.Size) }
func (i chkfsFileInfo) Mode() fs.FileMode  { return chkfsDirEntry{ino: i.ino}.Type() }
func (i chkfsFileInfo) ModTime() time.Time { return time.Time{} }
func (i chkfsFileInfo) IsDir() bool        { return i.ino.Type == uint16(InodeTypeDir) }
func (i chkfsFileInfo) Sys() any           { return nil }

// chkfsFile implements fs.File (and io.ReaderAt for random access) over a
// CachedInode, walking data blocks through a FileIterator.
type chkfsFile struct {
	fs  *FS
	ci  *CachedInode
	off int64
}

func (f *chkfsFile) Stat() (fs.FileInfo, error) {
	return chkfsFileInfo{ino: f.ci.Inode}, nil
}

func (f *chkfsFile) Read(p []byte) (int, error) {
	n, err := f.ReadAt(p, f.off)
	f.off += int64(n)
	return n, err
}

func (f *chkfsFile) ReadAt(p []byte, off int64) (int, error) {
	if uint64(off) >= f.ci.Inode.Size {
		return 0, io.EOF
	}
	if uint64(off)+uint64(len(p)) > f.ci.Inode.Size {
		p = p[:f.ci.Inode.Size-uint64(off)]
	}
	it := NewFileIterator(f.fs.Cache, f.ci)
	defer it.Close()

	n := 0
	for n < len(p) {
		cur := off + int64(n)
		if err := it.Find(cur); err != nil {
			return n, err
		}
		bn := it.BlockNum()
		within := int(cur % BlockSize)
		avail := BlockSize - within
		want := len(p) - n
		if want > avail {
			want = avail
		}
		if bn == 0 {
			for i := 0; i < want; i++ {
				p[n+i] = 0
			}
		} else {
			slot, err := f.fs.Cache.Load(bn, nil)
			if err != nil {
				return n, err
			}
			copy(p[n:n+want], slot.Bytes()[within:within+want])
			f.fs.Cache.Release(slot)
		}
		n += want
	}
	return n, nil
}

func (f *chkfsFile) Close() error {
	f.fs.PutInode(f.ci)
	return nil
}
