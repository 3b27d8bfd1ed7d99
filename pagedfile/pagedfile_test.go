package pagedfile

import (
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/flashtsdb/tsdbfile/bytefile"
)

func openTemp(t *testing.T, opts ...Option) (*PagedFD, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "paged.bin")

	bf, err := bytefile.Open(path, bytefile.FlagRead|bytefile.FlagWrite|bytefile.FlagCreate|bytefile.FlagTrunc)
	if err != nil {
		t.Fatal(err)
	}
	p, err := Open(bf, bytefile.FlagRead|bytefile.FlagWrite, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p, path
}

func reopenReader(t *testing.T, path string, opts ...Option) *PagedFD {
	t.Helper()
	bf, err := bytefile.Open(path, bytefile.FlagRead)
	if err != nil {
		t.Fatal(err)
	}
	p, err := Open(bf, bytefile.FlagRead, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOffsetTranslationRoundTrip(t *testing.T) {
	p, _ := openTemp(t, WithPageSize(64))

	for _, off := range []int64{0, 1, 59, 60, 61, 1000, 1 << 20} {
		fileOff := p.LogicToFile(off)
		got := p.FileToLogic(fileOff)
		if got != off {
			t.Fatalf("off=%d: LogicToFile=%d FileToLogic(back)=%d", off, fileOff, got)
		}
	}
}

func TestRoundTripPagePaddedWrite(t *testing.T) {
	sizes := []int{0, 60, 120, 600}
	for _, size := range sizes {
		p, path := openTemp(t, WithPageSize(64)) // S = 60

		data := make([]byte, size)
		rand.New(rand.NewSource(int64(size))).Read(data)

		if _, err := p.Write(data); err != nil {
			t.Fatal(err)
		}
		if err := p.Flush(); err != nil {
			t.Fatal(err)
		}
		if err := p.Close(true); err != nil {
			t.Fatal(err)
		}

		r := reopenReader(t, path, WithPageSize(64))
		got := make([]byte, size)
		if size > 0 {
			if err := r.Read(0, got); err != nil {
				t.Fatal(err)
			}
		}
		for i := range data {
			if got[i] != data[i] {
				t.Fatalf("size %d: byte %d mismatch", size, i)
			}
		}
		if err := r.Close(false); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLargeWriteCrossingManyPages(t *testing.T) {
	p, path := openTemp(t) // default page size 4096, S = 4092

	total := 1 << 20 // 1 MiB
	data := make([]byte, total)
	rand.New(rand.NewSource(42)).Read(data)

	if _, err := p.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := p.Flush(); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(true); err != nil {
		t.Fatal(err)
	}

	r := reopenReader(t, path)
	got := make([]byte, total)
	if err := r.Read(0, got); err != nil {
		t.Fatal(err)
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d mismatch", i)
		}
	}

	fileSize, err := r.Underlying().Size()
	if err != nil {
		t.Fatal(err)
	}
	s := int64(r.ContentSize())
	wantPages := (int64(total) + s - 1) / s
	wantSize := wantPages * int64(r.PageSize())
	if fileSize != wantSize {
		t.Fatalf("expected file size %d, got %d", wantSize, fileSize)
	}
}

func TestChecksumVerifyRejectsTamper(t *testing.T) {
	p, path := openTemp(t, WithPageSize(64))

	data := make([]byte, 60)
	rand.New(rand.NewSource(7)).Read(data)
	if _, err := p.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(true); err != nil {
		t.Fatal(err)
	}

	bf, err := bytefile.Open(path, bytefile.FlagRead|bytefile.FlagWrite)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 1)
	if _, err := bf.ReadAt(buf, 5); err != nil {
		t.Fatal(err)
	}
	buf[0] ^= 0xFF
	if _, err := bf.WriteAt(buf, 5); err != nil {
		t.Fatal(err)
	}
	bf.Close()

	r := reopenReader(t, path, WithPageSize(64))
	if err := r.ReadPage(1); !errors.Is(err, ErrFileCorrupted) {
		t.Fatalf("expected ErrFileCorrupted, got %v", err)
	}
}

func TestWriteNeverImplicitlyPadsPartialPage(t *testing.T) {
	p, path := openTemp(t, WithPageSize(64)) // S = 60

	if _, err := p.Write(make([]byte, 10)); err != nil {
		t.Fatal(err)
	}
	// Close without Flush: the partial tail page is not written out.
	if err := p.Close(true); err != nil {
		t.Fatal(err)
	}

	bf, err := bytefile.Open(path, bytefile.FlagRead)
	if err != nil {
		t.Fatal(err)
	}
	defer bf.Close()
	size, err := bf.Size()
	if err != nil {
		t.Fatal(err)
	}
	if size != 0 {
		t.Fatalf("expected 0 bytes on disk for an unflushed partial page, got %d", size)
	}
}
