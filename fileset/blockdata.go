package fileset

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flashtsdb/tsdbfile/checksum"
)

// checksumRegion allocates a buffer sized for content plus a trailing
// checksum.Size CRC, copies content in, and appends the trailer — the
// common shape of every self-checksummed region WriteBlockData writes
// (aBuf[3], aBuf[2], and each column's packed payload in aBuf[1]).
func checksumRegion(content []byte) []byte {
	buf := make([]byte, len(content)+checksum.Size)
	copy(buf, content)
	checksum.Append(buf, len(buf))
	return buf
}

// verifyRegion checks and strips the trailing checksum.Size CRC, returning
// the content bytes.
func verifyRegion(buf []byte) ([]byte, error) {
	if len(buf) < checksum.Size {
		return nil, fmt.Errorf("fileset: region shorter than checksum trailer")
	}
	if !checksum.Verify(buf, len(buf)) {
		return nil, fmt.Errorf("fileset: region checksum mismatch")
	}
	return buf[:len(buf)-checksum.Size], nil
}

func packInt64(vals []int64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func unpackInt64(buf []byte, n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

func packUint64(vals []uint64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return buf
}

func unpackUint64(buf []byte, n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out
}

func packFloat64(vals []float64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

func unpackFloat64(buf []byte, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out
}

// bitmapGet reports whether bit i of a null bitmap (LSB-first per byte) is
// set.
func bitmapGet(bitmap []byte, i int) bool {
	if len(bitmap) == 0 {
		return false
	}
	return bitmap[i/8]&(1<<uint(i%8)) != 0
}

// allRowsNull reports whether every one of the first nrow rows is marked
// null, the condition WriteBlockData uses to skip persisting a column's
// payload region entirely and rely on the directory's HAS_NULL flag
// instead.
func allRowsNull(bitmap []byte, nrow int) bool {
	if nrow == 0 || len(bitmap) == 0 {
		return false
	}
	for i := 0; i < nrow; i++ {
		if !bitmapGet(bitmap, i) {
			return false
		}
	}
	return true
}

// columnValueBytes returns the column's fixed-width or variable-length
// value stream, uncompressed, in row order. Variable-length (ColBinary)
// values are concatenated without prefixes; their boundaries travel in the
// separate offsets stream of nrow+1 cumulative little-endian uint64
// offsets. Fixed-width columns return a nil offsets stream.
func columnValueBytes(col ColumnData, nrow int) (values, offsets []byte) {
	switch col.Type {
	case ColInt64:
		return packInt64(col.Int64Values), nil
	case ColFloat64:
		return packFloat64(col.Float64Values), nil
	case ColBinary:
		var offs []uint64
		var off uint64
		var vals []byte
		for _, b := range col.BinValues {
			offs = append(offs, off)
			vals = append(vals, b...)
			off += uint64(len(b))
		}
		offs = append(offs, off) // nrow+1 cumulative offsets, last = total length
		return vals, packUint64(offs)
	default:
		return nil, nil
	}
}
