package chkfs

import "errors"

// Package-specific error variables that can be used with errors.Is() for error handling.
var (
	// ErrBadMagic is returned when a superblock or metablock's magic number does not match.
	ErrBadMagic = errors.New("chkfs: bad magic number")

	// ErrBadGeometry is returned when the superblock's region layout fails the contiguity
	// or sizing invariants of the on-disk format.
	ErrBadGeometry = errors.New("chkfs: invalid superblock geometry")

	// ErrMisaligned is returned when a Disk.ReadBlock/WriteBlock size or offset is not a
	// multiple of the required sector alignment.
	ErrMisaligned = errors.New("chkfs: misaligned size or offset")

	// ErrCacheFull is returned by BufCache.Load when no empty or reclaimable slot exists.
	ErrCacheFull = errors.New("chkfs: buffer cache full")

	// ErrNoSpace is returned by AllocateExtent when the free-block bitmap has no free block.
	ErrNoSpace = errors.New("chkfs: no free blocks")

	// ErrNoInodes reports an exhausted inode table. No function in this package
	// returns it; the builder reports too many input files as ErrTooManyFiles.
	ErrNoInodes = errors.New("chkfs: no free inodes")

	// ErrNotDirectory is returned when a directory operation targets a non-directory inode.
	ErrNotDirectory = errors.New("chkfs: not a directory")

	// ErrNotFound is returned when a directory lookup finds no matching entry.
	ErrNotFound = errors.New("chkfs: name not found")

	// ErrNameTooLong is returned when a directory entry name exceeds 123 bytes.
	ErrNameTooLong = errors.New("chkfs: name too long")

	// ErrReservedName is returned for ".", "..", empty names, or names containing "/".
	ErrReservedName = errors.New("chkfs: reserved or invalid name")

	// ErrFileTooLarge is returned when a file would exceed the maximum representable size.
	ErrFileTooLarge = errors.New("chkfs: file exceeds maximum size")

	// ErrJournalInvariant is returned by the replayer's analysis phase when a
	// non-recoverable journal invariant is violated.
	ErrJournalInvariant = errors.New("chkfs: journal invariant violation")

	// ErrTooManyFiles is returned by the builder when the input file list exceeds ninodes-2.
	ErrTooManyFiles = errors.New("chkfs: too many input files")

	// ErrBootSectorTooLarge is returned when the boot sector file exceeds 510 bytes.
	ErrBootSectorTooLarge = errors.New("chkfs: boot sector larger than 510 bytes")
)
