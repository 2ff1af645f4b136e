//go:build zstd

package chkfs

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

// WriteCompressedZstd copies a finished image from r to w as a zstd
// stream, for distributing a built image without shipping the raw bytes.
// This only affects packaging: the bytes the checker validates are the
// uncompressed image, grounded on comp_zstd.go's zstd registration for
// squashfs data blocks, here applied to whole-image archival instead.
func WriteCompressedZstd(w io.Writer, r io.Reader) error {
	enc, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadCompressedZstd decompresses a zstd-compressed image from r.
func ReadCompressedZstd(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return dec.IOReadCloser(), nil
}
