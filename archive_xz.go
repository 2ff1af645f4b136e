//go:build xz

package chkfs

import (
	"io"

	"github.com/ulikunitz/xz"
)

// WriteCompressedXZ copies a finished image from r to w as an xz stream,
// the `-z xz` variant of WriteCompressedZstd, grounded on comp_xz.go's
// xz codec registration.
func WriteCompressedXZ(w io.Writer, r io.Reader) error {
	enc, err := xz.NewWriter(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, r); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

// ReadCompressedXZ decompresses an xz-compressed image from r.
func ReadCompressedXZ(r io.Reader) (io.Reader, error) {
	return xz.NewReader(r)
}
