package chkfs_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/mpucholblasco/chkfs"
)

func TestDirentRoundTrip(t *testing.T) {
	d := &chkfs.Dirent{Inum: 7, Name: "hello.txt"}
	raw, err := d.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(raw) != chkfs.DirentSize {
		t.Fatalf("expected %d bytes, got %d", chkfs.DirentSize, len(raw))
	}

	var got chkfs.Dirent
	if err := got.UnmarshalBinary(raw); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got != *d {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, *d)
	}
	if got.IsTombstone() {
		t.Fatalf("entry with nonzero inum should not be a tombstone")
	}
}

func TestDirentTombstone(t *testing.T) {
	d := &chkfs.Dirent{}
	if !d.IsTombstone() {
		t.Fatalf("zero-inum entry should be a tombstone")
	}
}

func TestDirentNameTooLong(t *testing.T) {
	d := &chkfs.Dirent{Inum: 1, Name: strings.Repeat("x", chkfs.DirentNameSize)}
	if _, err := d.MarshalBinary(); !errors.Is(err, chkfs.ErrNameTooLong) {
		t.Fatalf("expected ErrNameTooLong, got %v", err)
	}
}

func TestValidName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr error
	}{
		{"ok.txt", nil},
		{"", chkfs.ErrReservedName},
		{".", chkfs.ErrReservedName},
		{"..", chkfs.ErrReservedName},
		{"a/b", chkfs.ErrReservedName},
		{strings.Repeat("x", chkfs.DirentNameSize), chkfs.ErrNameTooLong},
	}
	for _, c := range cases {
		err := chkfs.ValidName(c.name)
		if c.wantErr == nil && err != nil {
			t.Errorf("ValidName(%q): unexpected error %v", c.name, err)
		}
		if c.wantErr != nil && !errors.Is(err, c.wantErr) {
			t.Errorf("ValidName(%q): got %v, want %v", c.name, err, c.wantErr)
		}
	}
}
