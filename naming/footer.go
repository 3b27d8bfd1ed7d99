package naming

import (
	"encoding/binary"
	"fmt"

	"github.com/flashtsdb/tsdbfile/bytefile"
	"github.com/flashtsdb/tsdbfile/checksum"
	"github.com/flashtsdb/tsdbfile/codec"
)

// FHDRSize is the fixed size of the footer block reserved at the start of
// every file-set member and of the delete log. It is one
// page, comfortably larger than the footer's own encoded size.
const FHDRSize = 4096

// EncodeFooter serializes a FileFooter into a zero-padded, FHDRSize-byte
// block: a DLMT sentinel, the descriptor fields, and a whole-block CRC32
// trailer. Writing this block at file offset 0 is the commit point for
// both file-set members and the delete log.
func EncodeFooter(v codec.FileFooter) []byte {
	buf := make([]byte, FHDRSize)

	off := 0
	binary.LittleEndian.PutUint32(buf[off:], codec.TSDBFileDlmt)
	off += 4
	off = putI64(buf, off, v.Descriptor.CommitID)
	off = putI64(buf, off, v.Descriptor.Size)
	off = putI64(buf, off, v.Descriptor.Offset)
	off = putI64(buf, off, v.BloomOffset)
	putI64(buf, off, v.BloomSize)

	checksum.Append(buf, FHDRSize)
	return buf
}

// DecodeFooter parses an FHDRSize-byte footer block, verifying its
// delimiter and checksum. A freshly created, uncommitted file's footer is
// still all-zero: callers distinguish that case with IsZero.
func DecodeFooter(buf []byte) (codec.FileFooter, error) {
	var v codec.FileFooter
	if len(buf) != FHDRSize {
		return v, fmt.Errorf("naming: footer block must be %d bytes, got %d", FHDRSize, len(buf))
	}
	if !checksum.Verify(buf, FHDRSize) {
		return v, fmt.Errorf("naming: footer checksum mismatch")
	}

	off := 0
	delim := binary.LittleEndian.Uint32(buf[off:])
	off += 4
	v.Descriptor.CommitID, off = getI64(buf, off)
	v.Descriptor.Size, off = getI64(buf, off)
	v.Descriptor.Offset, off = getI64(buf, off)
	v.BloomOffset, off = getI64(buf, off)
	v.BloomSize, _ = getI64(buf, off)

	if delim != codec.TSDBFileDlmt {
		return v, fmt.Errorf("naming: footer delimiter mismatch: got %#x", delim)
	}
	return v, nil
}

// ReadFooter opens path read-only and decodes the footer block reserved
// at its start, without disturbing any paged body that follows — the
// same "trusted header area" a file-set reader's caller loads before
// calling fileset.OpenReader.
func ReadFooter(path string) (codec.FileFooter, error) {
	bf, err := bytefile.Open(path, bytefile.FlagRead)
	if err != nil {
		return codec.FileFooter{}, err
	}
	defer bf.Close()

	buf := make([]byte, FHDRSize)
	if _, err := bf.ReadAt(buf, 0); err != nil {
		return codec.FileFooter{}, err
	}
	if IsZero(buf) {
		return codec.FileFooter{}, fmt.Errorf("naming: %s has a newborn (uncommitted) footer", path)
	}
	return DecodeFooter(buf)
}

// IsZero reports whether buf is an all-zero, never-committed footer block
// — the state of a file that was created but never reached its commit
// point.
func IsZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

func putI64(buf []byte, off int, v int64) int {
	binary.LittleEndian.PutUint64(buf[off:], uint64(v))
	return off + 8
}

func getI64(buf []byte, off int) (int64, int) {
	return int64(binary.LittleEndian.Uint64(buf[off:])), off + 8
}
