// Package fileset implements the file-set writer and reader (components
// E and F): the four PagedFDs {head, data, sma, sst[last]} that make up
// one time-aligned commit, and the byte-exact copy between disk locations
// (component H).
package fileset

import (
	"github.com/flashtsdb/tsdbfile/codec"
)

// FileSet is the set of descriptors grouped under one (fid, diskId): an
// integer fid, a two-tier diskId, and the four file
// descriptors {head, data, sma, sst[*]}. Sst is an ordered list; a commit
// always appends exactly one fresh member and leaves earlier members
// untouched.
type FileSet struct {
	Fid    int64
	DiskID int
	VgID   int

	Head codec.FileDescriptor
	Data codec.FileDescriptor
	Sma  codec.FileDescriptor
	Sst  []codec.FileDescriptor

	// HeadBloomOffset/HeadBloomSize locate the head file's table-existence
	// bloom filter, loaded from the head footer alongside Head.Offset/
	// Head.Size.
	HeadBloomOffset int64
	HeadBloomSize   int64
}

// ColumnType distinguishes the fixed-width numeric columns SMA aggregates
// from variable-length columns SMA skips.
type ColumnType uint8

const (
	ColInt64 ColumnType = iota
	ColFloat64
	ColBinary
)

// ColumnData is one column's values for a block, in row order. Exactly
// one of Int64Values/Float64Values/BinValues is populated, selected by
// Type. NullBitmap has one bit per row (1 = null, LSB-first within each
// byte); Values at a null row are ignored.
//
// None and AllNull distinguish the two degenerate read outcomes
// ReadBlockDataImpl produces: None means the column's cid is absent from
// this block's directory entirely (nRow NONE values); AllNull
// means the directory carries the column but flags it HAS_NULL (nRow NULL
// values, no payload region on disk). Both leave Int64Values/
// Float64Values/BinValues empty.
type ColumnData struct {
	Cid        int16
	Type       ColumnType
	SmaOn      bool
	None       bool
	AllNull    bool
	NullBitmap []byte

	Int64Values   []int64
	Float64Values []float64
	BinValues     [][]byte
}

// Block is the columnar row group WriteBlockData persists: a table
// identity, a primary-key (TSKEY) stream, per-row versions, and the
// column set. Uid == 0 marks a super-table block, whose per-row child-uid
// stream is carried in Uids.
type Block struct {
	Suid uint64
	Uid  uint64
	NRow uint32

	Uids     []uint64
	Versions []int64
	TsKeys   []int64
	Columns  []ColumnData
}
