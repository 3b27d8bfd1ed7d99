// Package codec implements the variable-length put/get binary codecs for
// every on-disk record type in the file set and delete log: block-index
// entries, block-map/data-block/block-info records, sst-block entries,
// per-column sma aggregates, disk-data headers, block-column directory
// entries, and delete-data and delete-index records. It also defines the
// FileFooter type; the fixed-size footer block itself is encoded and
// decoded by naming.EncodeFooter/DecodeFooter. Integers are little-endian;
// lengths are var-int
// (encoding/binary's Uvarint), tagged headers are fixed-size.
package codec

// TSDBFileDlmt is the 32-bit little-endian sentinel written at the start
// of every self-checksummed region (delete-log records, the file footer).
const TSDBFileDlmt uint32 = 0xF00AFFFF

// Compression algorithm tags for DiskDataHdr.CmprAlg.
const (
	CmprNone uint8 = iota
	CmprZstd
)

// Column directory entry flags.
const (
	ColFlagNone    uint8 = 0
	ColFlagHasNull uint8 = 1 << 0
)

// BlockIdx locates a table's MapData region inside the head file's
// block-map area.
type BlockIdx struct {
	Suid   uint64
	Uid    uint64
	Offset int64
	Size   int64
}

// SmaInfo locates a block's pre-aggregated column statistics in the sma
// file.
type SmaInfo struct {
	Offset int64
	Size   int64
}

// BlockInfo is one sub-block's location and size split, pointing into the
// data or sst file.
type BlockInfo struct {
	Offset  int64
	SzKey   uint32
	SzBlock uint32
	Sma     SmaInfo
	HasSma  bool
}

// DataBlk is a table's set of sub-blocks whose merge yields the logical
// block content.
type DataBlk struct {
	SubBlocks []BlockInfo
}

// MapDataEntry pairs a table identity with its DataBlk.
type MapDataEntry struct {
	Suid uint64
	Uid  uint64
	Blk  DataBlk
}

// MapData is the list of DataBlk entries for all tables referenced by one
// BlockIdx region.
type MapData struct {
	Entries []MapDataEntry
}

// DiskDataHdr is the per-block-on-disk header: delimiter sentinel, table
// identity, row count, compression algorithm, and the four region sizes
// making up aBuf[3]/aBuf[2].
type DiskDataHdr struct {
	Delimiter uint32
	Suid      uint64
	Uid       uint64
	NRow      uint32
	CmprAlg   uint8
	SzUid     uint32
	SzVer     uint32
	SzKey     uint32
	SzBlkCol  uint32
}

// BlockColEntry is one column's layout descriptor inside the block-column
// directory (aBuf[2]).
type BlockColEntry struct {
	Cid      int16
	Type     uint8
	Flag     uint8
	Offset   uint32
	SzBitmap uint32
	SzOffset uint32
	SzValue  uint32
}

// SstBlk mirrors BlockIdx for the tail file's block-index region.
type SstBlk struct {
	Suid   uint64
	Uid    uint64
	Offset int64
	Size   int64
}

// DelData is one per-table delete range appended to the delete log.
type DelData struct {
	Suid    uint64
	Uid     uint64
	SKey    int64
	EKey    int64
	Version uint64
}

// DelIdx locates a table's DelData entries inside the delete log's trailing
// index region.
type DelIdx struct {
	Suid   uint64
	Uid    uint64
	Offset int64
	Size   int64
}

// SmaAgg is one column's pre-aggregated statistics for a block, skipped
// for variable-length and smaOn=false columns.
type SmaAgg struct {
	Cid   int16
	Count int64
	Sum   float64
	Min   float64
	Max   float64
}

// FileDescriptor is the in-memory bookkeeping kept for each of {head,
// data, sma, sst[i]}: commit id, logical file size, and the logical
// offset of the file's index footer region.
type FileDescriptor struct {
	CommitID int64
	Size     int64
	Offset   int64
}

// FileFooter is the fixed-size record written at file offset 0 once a
// file's body is complete — its presence and validity constitute commit.
// BloomOffset/BloomSize are the additive extension for the head file's
// table-existence bloom filter; they are zero/unused for data, sma, and
// sst footers.
type FileFooter struct {
	Descriptor  FileDescriptor
	BloomOffset int64
	BloomSize   int64
}
