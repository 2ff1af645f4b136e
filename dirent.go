package chkfs

import "bytes"

// Dirent is a 128-byte on-disk directory entry: a 4-byte inode number
// (0 means tombstone) followed by a 124-byte null-terminated name.
type Dirent struct {
	Inum uint32
	Name string
}

// IsTombstone reports whether this entry is a free slot.
func (d *Dirent) IsTombstone() bool { return d.Inum == 0 }

// MarshalBinary serializes the entry to its 128-byte on-disk form.
func (d *Dirent) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DirentSize)
	putLE32(buf[0:4], d.Inum)
	if len(d.Name) > DirentNameSize-1 {
		return nil, ErrNameTooLong
	}
	copy(buf[4:], d.Name)
	return buf, nil
}

// UnmarshalBinary decodes an entry from its 128-byte on-disk form.
func (d *Dirent) UnmarshalBinary(data []byte) error {
	if len(data) < DirentSize {
		return ErrNameTooLong
	}
	d.Inum = getLE32(data[0:4])
	name := data[4:DirentSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	d.Name = string(name)
	return nil
}

// ValidName reports whether name may be stored in a directory entry:
// non-empty, at most DirentNameSize-1 bytes, no "/", and not "." or "..".
func ValidName(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrReservedName
	}
	if len(name) > DirentNameSize-1 {
		return ErrNameTooLong
	}
	if bytes.IndexByte([]byte(name), '/') >= 0 {
		return ErrReservedName
	}
	return nil
}
