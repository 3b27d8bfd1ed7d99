// Package pagedfile implements PagedFD, the logical page-checksummed
// stream that every on-disk region in fileset is built from (component C).
//
// A page is P bytes: P-C content bytes followed by a C-byte CRC32 trailer
// (C = checksum.Size). Logical offsets are offsets into the
// checksum-stripped content stream; file offsets include the trailers.
// PagedFD is exclusively owned by one writer or one reader at a time —
// the mutex here exists to let Close race safely against an in-flight
// call during shutdown, not to allow concurrent use.
package pagedfile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/flashtsdb/tsdbfile/bytefile"
	"github.com/flashtsdb/tsdbfile/checksum"
)

// DefaultPageSize is TSDB_DEFAULT_PAGE_SIZE, the one literal preserved from
// original_source/tsdbReaderWriter.c.
const DefaultPageSize = 4096

// ErrFileCorrupted is returned for any short page read, bad page checksum,
// or (in fileset/dellog) bad region checksum / delimiter mismatch.
var ErrFileCorrupted = errors.New("pagedfile: file corrupted")

// PagedFD is the logical page-checksummed stream other regions are built
// from.
type PagedFD struct {
	mu sync.Mutex

	bf   *bytefile.File
	path string
	flag bytefile.Flag

	pageSize int   // P
	content  int   // S = P - checksum.Size
	base     int64 // file offset where this logical stream begins

	buf  []byte // scratch buffer, len == pageSize
	nBuf int    // bytes of unflushed tail in buf[0:nBuf], writer-side
	pgno int64  // 1-indexed cached page number (relative to base), 0 = none, reader-side
}

// Option configures a PagedFD at construction.
type Option func(*PagedFD)

// WithPageSize overrides the default 4096-byte page.
func WithPageSize(size int) Option {
	return func(p *PagedFD) { p.pageSize = size }
}

// WithBaseOffset sets the file offset where the logical stream begins —
// used by fileset to start the paged body immediately after a file's
// fixed-size footer reservation, so logical
// offset 0 never collides with the footer block.
func WithBaseOffset(off int64) Option {
	return func(p *PagedFD) { p.base = off }
}

// Open allocates the scratch buffer and wraps an already-open byte file.
// It never touches the file's content: a writer starts appending at the
// byte file's current tail, a reader starts with no cached page.
func Open(bf *bytefile.File, flag bytefile.Flag, opts ...Option) (*PagedFD, error) {
	p := &PagedFD{
		bf:       bf,
		path:     bf.Path(),
		flag:     flag,
		pageSize: DefaultPageSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.pageSize <= checksum.Size {
		return nil, fmt.Errorf("pagedfile: page size %d too small", p.pageSize)
	}
	p.content = p.pageSize - checksum.Size
	p.buf = make([]byte, p.pageSize)
	return p, nil
}

// PageSize returns P.
func (p *PagedFD) PageSize() int { return p.pageSize }

// ContentSize returns S = P - checksum.Size.
func (p *PagedFD) ContentSize() int { return p.content }

// LogicToFile translates a logical (checksum-stripped) offset to the file
// offset that holds the same byte.
func (p *PagedFD) LogicToFile(logicalOff int64) int64 {
	s := int64(p.content)
	pg := logicalOff / s
	rem := logicalOff % s
	return p.base + pg*int64(p.pageSize) + rem
}

// FileToLogic is the inverse of LogicToFile. fileOff must not point at a
// checksum trailer byte, and must be >= the stream's base offset.
func (p *PagedFD) FileToLogic(fileOff int64) int64 {
	rel := fileOff - p.base
	pg := rel / int64(p.pageSize)
	rem := rel % int64(p.pageSize)
	return pg*int64(p.content) + rem
}

// pageOf returns the 1-indexed page number (relative to base) containing
// fileOff.
func (p *PagedFD) pageOf(fileOff int64) int64 {
	return (fileOff-p.base)/int64(p.pageSize) + 1
}

// Write appends src to the logical stream, buffering a partial trailing
// page in p.buf until it fills (or the caller explicitly Flushes at
// Close). This never implicitly pads a partial page.
func (p *PagedFD) Write(src []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(src) {
		room := p.content - p.nBuf
		n := len(src) - written
		if n > room {
			n = room
		}
		copy(p.buf[p.nBuf:p.nBuf+n], src[written:written+n])
		p.nBuf += n
		written += n

		if p.nBuf == p.content {
			checksum.Append(p.buf, p.pageSize)
			if _, err := p.bf.Write(p.buf); err != nil {
				return written, err
			}
			p.nBuf = 0
		}
	}
	return written, nil
}

// Flush pads the buffered partial page with zeroes, checksums it, and
// writes it out, resetting nBuf to 0. This is the writer's deliberate
// final write, the alternative to leaving a partial page unflushed.
// Flushing an empty buffer is a no-op.
func (p *PagedFD) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushLocked()
}

func (p *PagedFD) flushLocked() error {
	if p.nBuf == 0 {
		return nil
	}
	for i := p.nBuf; i < p.content; i++ {
		p.buf[i] = 0
	}
	checksum.Append(p.buf, p.pageSize)
	if _, err := p.bf.Write(p.buf); err != nil {
		return err
	}
	p.nBuf = 0
	return nil
}

// ReadPage seeks to page pgno (1-indexed), reads exactly P bytes, verifies
// its checksum, and caches it as the current page.
func (p *PagedFD) ReadPage(pgno int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readPageLocked(pgno)
}

func (p *PagedFD) readPageLocked(pgno int64) error {
	off := p.base + (pgno-1)*int64(p.pageSize)
	if _, err := p.bf.Seek(off, bytefile.SeekStart); err != nil {
		return err
	}
	n, err := p.bf.Read(p.buf)
	if err != nil || n != p.pageSize {
		p.pgno = 0
		return fmt.Errorf("%w: short read of page %d (%d/%d bytes)", ErrFileCorrupted, pgno, n, p.pageSize)
	}
	if !checksum.Verify(p.buf, p.pageSize) {
		p.pgno = 0
		return fmt.Errorf("%w: bad checksum on page %d", ErrFileCorrupted, pgno)
	}
	p.pgno = pgno
	return nil
}

// Read translates the logical offset off to a file offset and copies n =
// len(dst) bytes from the (possibly multi-page) span that follows,
// re-fetching and verifying each page it has not already cached. A
// logical read never exposes a checksum trailer to the caller.
func (p *PagedFD) Read(off int64, dst []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(dst)
	if n == 0 {
		return nil
	}

	fileOff := p.LogicToFile(off)
	pgno := p.pageOf(fileOff)
	copied := 0

	inPageOff := fileOff % int64(p.pageSize)
	if p.pgno == pgno {
		avail := int64(p.content) - inPageOff
		take := avail
		if take > int64(n) {
			take = int64(n)
		}
		copy(dst[:take], p.buf[inPageOff:inPageOff+take])
		copied += int(take)
		pgno++
		inPageOff = 0
	}

	for copied < n {
		if err := p.readPageLocked(pgno); err != nil {
			return err
		}
		take := int64(p.content) - inPageOff
		remaining := int64(n - copied)
		if take > remaining {
			take = remaining
		}
		copy(dst[copied:int64(copied)+take], p.buf[inPageOff:inPageOff+take])
		copied += int(take)
		pgno++
		inPageOff = 0
	}

	return nil
}

// Size returns the logical size of everything written so far, including
// the still-buffered partial tail page (if any).
func (p *PagedFD) Size() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fileSize, err := p.bf.Size()
	if err != nil {
		return 0, err
	}
	return p.FileToLogic(fileSize) + int64(p.nBuf), nil
}

// Close releases the scratch buffer and closes the underlying byte file,
// fsyncing it first if sync is true. It never flushes a buffered partial
// page — callers that need the tail durable call Flush first.
func (p *PagedFD) Close(sync bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var syncErr error
	if sync {
		syncErr = p.bf.Fsync()
	}
	closeErr := p.bf.Close()
	p.buf = nil

	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// Underlying exposes the wrapped byte file for header rewrites (WriteAt/
// ReadAt at offset 0) and Sendfile-based copies, which deliberately bypass
// the paged, checksum-per-page stream.
func (p *PagedFD) Underlying() *bytefile.File { return p.bf }
