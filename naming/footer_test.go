package naming

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/flashtsdb/tsdbfile/codec"
)

func TestFooterRoundTrip(t *testing.T) {
	v := codec.FileFooter{
		Descriptor:  codec.FileDescriptor{CommitID: 7, Size: 1 << 20, Offset: 1 << 18},
		BloomOffset: 512,
		BloomSize:   64,
	}

	buf := EncodeFooter(v)
	if len(buf) != FHDRSize {
		t.Fatalf("expected %d bytes, got %d", FHDRSize, len(buf))
	}

	got, err := DecodeFooter(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got != v {
		t.Fatalf("got %+v want %+v", got, v)
	}
}

func TestFooterZeroBlockIsZero(t *testing.T) {
	buf := make([]byte, FHDRSize)
	if !IsZero(buf) {
		t.Fatal("expected all-zero block to be reported as zero")
	}

	v := codec.FileFooter{Descriptor: codec.FileDescriptor{CommitID: 1}}
	committed := EncodeFooter(v)
	if IsZero(committed) {
		t.Fatal("expected committed footer to not be zero")
	}
}

func TestReadFooterRejectsNewbornFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1f1ver1.head")
	if err := os.WriteFile(path, make([]byte, FHDRSize), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadFooter(path); err == nil {
		t.Fatal("expected ReadFooter to reject an all-zero, uncommitted footer")
	}
}

func TestReadFooterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v1f1ver1.head")
	v := codec.FileFooter{Descriptor: codec.FileDescriptor{CommitID: 9, Size: 4096, Offset: 100}}
	if err := os.WriteFile(path, EncodeFooter(v), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFooter(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != v {
		t.Fatalf("got %+v want %+v", got, v)
	}
}

func TestFooterDetectsTamper(t *testing.T) {
	v := codec.FileFooter{Descriptor: codec.FileDescriptor{CommitID: 1, Size: 2, Offset: 3}}
	buf := EncodeFooter(v)
	buf[10] ^= 0xFF

	if _, err := DecodeFooter(buf); err == nil {
		t.Fatal("expected tampered footer to fail checksum verification")
	}
}
