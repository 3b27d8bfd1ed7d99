package fileset

import (
	"bytes"
	"fmt"
	"os"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/flashtsdb/tsdbfile/bytefile"
	"github.com/flashtsdb/tsdbfile/codec"
	"github.com/flashtsdb/tsdbfile/compress"
	"github.com/flashtsdb/tsdbfile/naming"
	"github.com/flashtsdb/tsdbfile/pagedfile"
)

// bloomFalsePositiveRate is the target false-positive rate for the head
// file's table-existence bloom filter.
const bloomFalsePositiveRate = 0.01

type tableKey struct {
	suid uint64
	uid  uint64
}

// Writer holds the four live PagedFDs that make up one commit of a file
// set: head and sst[last] are always fresh, data and sma are reopened and
// appended to when they already exist.
type Writer struct {
	root     string
	vgID     int
	fid      int64
	commitID int64

	desc       *FileSet
	sstLastIdx int

	head    *pagedfile.PagedFD
	data    *pagedfile.PagedFD
	sma     *pagedfile.PagedFD
	sstLast *pagedfile.PagedFD

	blockIdxEntries []codec.BlockIdx
	sstBlkEntries   []codec.SstBlk
	tables          map[tableKey]struct{}
}

// OpenWriter opens (or creates) the four paged streams for one commit of
// fs, mutating fs's descriptors in place as members are created or
// resumed. fs must not be reused by another concurrent Writer.
func OpenWriter(root string, vgID int, fid, commitID int64, fs *FileSet) (*Writer, error) {
	dir := naming.VnodeDir(root, vgID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fileset: create vnode dir: %w", err)
	}

	w := &Writer{
		root: root, vgID: vgID, fid: fid, commitID: commitID,
		desc:   fs,
		tables: make(map[tableKey]struct{}),
	}

	var err error
	if w.head, err = openFresh(naming.HeadPath(root, vgID, fid, commitID), &fs.Head, commitID); err != nil {
		return nil, err
	}
	if w.data, err = openPersistent(root, vgID, fid, commitID, &fs.Data, naming.DataPath); err != nil {
		w.head.Close(false)
		return nil, err
	}
	if w.sma, err = openPersistent(root, vgID, fid, commitID, &fs.Sma, naming.SmaPath); err != nil {
		w.head.Close(false)
		w.data.Close(false)
		return nil, err
	}

	w.sstLastIdx = len(fs.Sst)
	sstPath := naming.SstPath(root, vgID, fid, commitID, w.sstLastIdx)
	if w.sstLast, err = openFreshAt(sstPath, commitID); err != nil {
		w.head.Close(false)
		w.data.Close(false)
		w.sma.Close(false)
		return nil, err
	}
	fs.Sst = append(fs.Sst, codec.FileDescriptor{CommitID: commitID})

	return w, nil
}

// openFresh creates (truncating) a new head/sst-style member, reserves the
// footer block, and updates desc in place. Descriptor sizes and offsets
// are logical: they count the paged content stream only, not the raw
// footer block reserved ahead of it.
func openFresh(path string, desc *codec.FileDescriptor, commitID int64) (*pagedfile.PagedFD, error) {
	pfd, err := openFreshAt(path, commitID)
	if err != nil {
		return nil, err
	}
	*desc = codec.FileDescriptor{CommitID: commitID}
	return pfd, nil
}

func openFreshAt(path string, commitID int64) (*pagedfile.PagedFD, error) {
	bf, err := bytefile.Open(path, bytefile.FlagRead|bytefile.FlagWrite|bytefile.FlagCreate|bytefile.FlagTrunc)
	if err != nil {
		return nil, err
	}
	if _, err := bf.Write(make([]byte, naming.FHDRSize)); err != nil {
		bf.Close()
		return nil, err
	}
	return pagedfile.Open(bf, bytefile.FlagRead|bytefile.FlagWrite, pagedfile.WithBaseOffset(int64(naming.FHDRSize)))
}

// openPersistent reopens an existing data/sma member at its original
// creation commit id and seeks to its end, or creates it fresh if this is
// the file set's first commit. O_APPEND would break the positional footer
// rewrite at offset 0, so the writer seeks to the current end explicitly
// instead.
func openPersistent(root string, vgID int, fid, commitID int64, desc *codec.FileDescriptor, pathFn func(string, int, int64, int64) string) (*pagedfile.PagedFD, error) {
	if desc.Size > 0 {
		path := pathFn(root, vgID, fid, desc.CommitID)
		bf, err := bytefile.Open(path, bytefile.FlagRead|bytefile.FlagWrite)
		if err != nil {
			return nil, err
		}
		if _, err := bf.Seek(0, bytefile.SeekEnd); err != nil {
			bf.Close()
			return nil, err
		}
		return pagedfile.Open(bf, bytefile.FlagRead|bytefile.FlagWrite, pagedfile.WithBaseOffset(int64(naming.FHDRSize)))
	}

	path := pathFn(root, vgID, fid, commitID)
	pfd, err := openFreshAt(path, commitID)
	if err != nil {
		return nil, err
	}
	*desc = codec.FileDescriptor{CommitID: commitID}
	return pfd, nil
}

// computeSmaAggs pre-aggregates count/sum/min/max per SMA-eligible column,
// skipping variable-length (ColBinary) and smaOn == false columns and
// null rows.
func computeSmaAggs(blk *Block) []codec.SmaAgg {
	var out []codec.SmaAgg
	for _, col := range blk.Columns {
		if !col.SmaOn || col.Type == ColBinary {
			continue
		}
		var count int64
		var sum, min, max float64
		first := true
		for i := 0; i < int(blk.NRow); i++ {
			if bitmapGet(col.NullBitmap, i) {
				continue
			}
			var v float64
			if col.Type == ColInt64 {
				v = float64(col.Int64Values[i])
			} else {
				v = col.Float64Values[i]
			}
			count++
			sum += v
			if first || v < min {
				min = v
			}
			if first || v > max {
				max = v
			}
			first = false
		}
		out = append(out, codec.SmaAgg{Cid: col.Cid, Count: count, Sum: sum, Min: min, Max: max})
	}
	return out
}

func encodeSmaAggs(aggs []codec.SmaAgg) []byte {
	n := varintPutSize(uint64(len(aggs)))
	for _, a := range aggs {
		n += codec.PutSmaAgg(nil, a)
	}
	buf := make([]byte, n)
	off := varintPut(buf, uint64(len(aggs)))
	for _, a := range aggs {
		off += codec.PutSmaAgg(buf[off:], a)
	}
	return buf
}

// WriteBlockData serializes blk as one disk-data block: the disk-data
// header + uid/version/tskey streams, then the block-column directory,
// then each column's compressed bitmap+offsets+values, each region
// self-checksummed. toLast selects the sst[last] member instead of data.
// SzKey covers the key region alone (trailer included); the directory
// follows it at SzKey and spans SzBlkCol plus its trailer; column payload
// offsets are relative to the directory's end.
func (w *Writer) WriteBlockData(blk *Block, cmprAlg uint8, toLast bool) (codec.BlockInfo, error) {
	target := w.data
	targetDesc := &w.desc.Data
	if toLast {
		target = w.sstLast
		targetDesc = &w.desc.Sst[w.sstLastIdx]
	}

	var uidC []byte
	if blk.Uid == 0 {
		var err error
		if uidC, err = compress.Encode(cmprAlg, packUint64(blk.Uids)); err != nil {
			return codec.BlockInfo{}, err
		}
	}
	verC, err := compress.Encode(cmprAlg, packInt64(blk.Versions))
	if err != nil {
		return codec.BlockInfo{}, err
	}
	tskeyC, err := compress.Encode(cmprAlg, packInt64(blk.TsKeys))
	if err != nil {
		return codec.BlockInfo{}, err
	}

	var entries []codec.BlockColEntry
	var colRegions [][]byte
	var colOffset uint32
	for _, col := range blk.Columns {
		if allRowsNull(col.NullBitmap, int(blk.NRow)) {
			// Whole column is null for this block: the HAS_NULL entry
			// carries no payload region.
			entries = append(entries, codec.BlockColEntry{
				Cid: col.Cid, Type: uint8(col.Type), Flag: codec.ColFlagHasNull,
				Offset: colOffset,
			})
			continue
		}

		values, offsets := columnValueBytes(col, int(blk.NRow))
		bitmapC, err := compress.Encode(cmprAlg, col.NullBitmap)
		if err != nil {
			return codec.BlockInfo{}, err
		}
		offsetsC, err := compress.Encode(cmprAlg, offsets)
		if err != nil {
			return codec.BlockInfo{}, err
		}
		valuesC, err := compress.Encode(cmprAlg, values)
		if err != nil {
			return codec.BlockInfo{}, err
		}

		combined := make([]byte, 0, len(bitmapC)+len(offsetsC)+len(valuesC))
		combined = append(combined, bitmapC...)
		combined = append(combined, offsetsC...)
		combined = append(combined, valuesC...)
		region := checksumRegion(combined)
		colRegions = append(colRegions, region)

		entries = append(entries, codec.BlockColEntry{
			Cid: col.Cid, Type: uint8(col.Type), Flag: codec.ColFlagNone,
			Offset: colOffset, SzBitmap: uint32(len(bitmapC)), SzOffset: uint32(len(offsetsC)), SzValue: uint32(len(valuesC)),
		})
		colOffset += uint32(len(region))
	}

	dirSize := 0
	for _, e := range entries {
		dirSize += codec.PutBlockColEntry(nil, e)
	}
	dirContent := make([]byte, dirSize)
	off := 0
	for _, e := range entries {
		off += codec.PutBlockColEntry(dirContent[off:], e)
	}
	dirRegion := checksumRegion(dirContent)

	hdr := codec.DiskDataHdr{
		Delimiter: codec.TSDBFileDlmt, Suid: blk.Suid, Uid: blk.Uid, NRow: blk.NRow, CmprAlg: cmprAlg,
		SzUid: uint32(len(uidC)), SzVer: uint32(len(verC)), SzKey: uint32(len(tskeyC)), SzBlkCol: uint32(dirSize),
	}
	hdrSize := codec.PutDiskDataHdr(nil, hdr)
	keyContent := make([]byte, 0, hdrSize+len(uidC)+len(verC)+len(tskeyC))
	keyContent = append(keyContent, make([]byte, hdrSize)...)
	codec.PutDiskDataHdr(keyContent[:hdrSize], hdr)
	keyContent = append(keyContent, uidC...)
	keyContent = append(keyContent, verC...)
	keyContent = append(keyContent, tskeyC...)
	keyRegion := checksumRegion(keyContent)

	offsetLogical, err := target.Size()
	if err != nil {
		return codec.BlockInfo{}, err
	}
	if _, err := target.Write(keyRegion); err != nil {
		return codec.BlockInfo{}, err
	}
	if _, err := target.Write(dirRegion); err != nil {
		return codec.BlockInfo{}, err
	}
	for _, r := range colRegions {
		if _, err := target.Write(r); err != nil {
			return codec.BlockInfo{}, err
		}
	}

	szKey := uint32(len(keyRegion))
	szBlock := szKey + uint32(len(dirRegion))
	for _, r := range colRegions {
		szBlock += uint32(len(r))
	}

	info := codec.BlockInfo{Offset: offsetLogical, SzKey: szKey, SzBlock: szBlock}

	if aggs := computeSmaAggs(blk); len(aggs) > 0 {
		smaRegion := checksumRegion(encodeSmaAggs(aggs))
		smaOffset, err := w.sma.Size()
		if err != nil {
			return codec.BlockInfo{}, err
		}
		if _, err := w.sma.Write(smaRegion); err != nil {
			return codec.BlockInfo{}, err
		}
		w.desc.Sma.Size += int64(len(smaRegion))
		info.HasSma = true
		info.Sma = codec.SmaInfo{Offset: smaOffset, Size: int64(len(smaRegion))}
	}

	targetDesc.Size += int64(szBlock)
	w.tables[tableKey{blk.Suid, blk.Uid}] = struct{}{}

	return info, nil
}

// WriteBlockIdx persists one table's DataBlk into the head file's block-map
// area as a single-entry MapData region and records a BlockIdx entry for
// it, to be written out as the head file's directory at
// UpdateDFileSetHeader. The region echoes (suid, uid) so a reader can
// cross-check the directory entry against the map it addresses.
func (w *Writer) WriteBlockIdx(suid, uid uint64, blk codec.DataBlk) (codec.BlockIdx, error) {
	md := codec.MapData{Entries: []codec.MapDataEntry{{Suid: suid, Uid: uid, Blk: blk}}}
	content := make([]byte, codec.PutMapData(nil, md))
	codec.PutMapData(content, md)
	region := checksumRegion(content)

	offset, err := w.head.Size()
	if err != nil {
		return codec.BlockIdx{}, err
	}
	if _, err := w.head.Write(region); err != nil {
		return codec.BlockIdx{}, err
	}
	w.desc.Head.Size += int64(len(region))

	entry := codec.BlockIdx{Suid: suid, Uid: uid, Offset: offset, Size: int64(len(region))}
	w.blockIdxEntries = append(w.blockIdxEntries, entry)
	return entry, nil
}

// WriteSstBlk mirrors WriteBlockIdx for the newest sst member's own
// block-map area and index region.
func (w *Writer) WriteSstBlk(suid, uid uint64, blk codec.DataBlk) (codec.SstBlk, error) {
	md := codec.MapData{Entries: []codec.MapDataEntry{{Suid: suid, Uid: uid, Blk: blk}}}
	content := make([]byte, codec.PutMapData(nil, md))
	codec.PutMapData(content, md)
	region := checksumRegion(content)

	offset, err := w.sstLast.Size()
	if err != nil {
		return codec.SstBlk{}, err
	}
	if _, err := w.sstLast.Write(region); err != nil {
		return codec.SstBlk{}, err
	}
	w.desc.Sst[w.sstLastIdx].Size += int64(len(region))

	entry := codec.SstBlk{Suid: suid, Uid: uid, Offset: offset, Size: int64(len(region))}
	w.sstBlkEntries = append(w.sstBlkEntries, entry)
	return entry, nil
}

// UpdateDFileSetHeader writes the head file's BlockIdx directory plus its
// table-existence bloom filter, writes the sst[last] member's SstBlk
// directory, flushes every paged member's partial tail page, and commits
// all four footers. This is the commit point; it does not fsync, so the
// commit is durable only once Close(true) has synced the members. An
// empty directory writes no bytes: the footer's
// offset then equals the region end, and a reader decodes it as an empty
// list.
func (w *Writer) UpdateDFileSetHeader() error {
	headDirOffset, err := w.head.Size()
	if err != nil {
		return err
	}
	w.desc.Head.Offset = headDirOffset
	if len(w.blockIdxEntries) > 0 {
		region := encodeDirRegion(w.blockIdxEntries, codec.PutBlockIdx)
		if _, err := w.head.Write(region); err != nil {
			return err
		}
	}

	bloomOffset, bloomSize, err := w.writeBloom()
	if err != nil {
		return err
	}
	w.desc.HeadBloomOffset = bloomOffset
	w.desc.HeadBloomSize = bloomSize
	w.desc.Head.Size = bloomOffset + bloomSize

	sstDirOffset, err := w.sstLast.Size()
	if err != nil {
		return err
	}
	sstDesc := &w.desc.Sst[w.sstLastIdx]
	sstDesc.Offset = sstDirOffset
	sstDesc.Size = sstDirOffset
	if len(w.sstBlkEntries) > 0 {
		region := encodeDirRegion(w.sstBlkEntries, codec.PutSstBlk)
		if _, err := w.sstLast.Write(region); err != nil {
			return err
		}
		sstDesc.Size += int64(len(region))
	}

	for _, p := range []*pagedfile.PagedFD{w.head, w.data, w.sma, w.sstLast} {
		if err := p.Flush(); err != nil {
			return err
		}
	}

	// Flush padding counts as logical content, so data and sma report
	// their post-flush extent; head and sst keep the exact region ends
	// their directories are delimited by.
	if w.desc.Data.Size, err = w.data.Size(); err != nil {
		return err
	}
	if w.desc.Sma.Size, err = w.sma.Size(); err != nil {
		return err
	}

	if err := writeFooter(w.head.Underlying(), codec.FileFooter{Descriptor: w.desc.Head, BloomOffset: bloomOffset, BloomSize: bloomSize}); err != nil {
		return err
	}
	if err := writeFooter(w.data.Underlying(), codec.FileFooter{Descriptor: w.desc.Data}); err != nil {
		return err
	}
	if err := writeFooter(w.sma.Underlying(), codec.FileFooter{Descriptor: w.desc.Sma}); err != nil {
		return err
	}
	if err := writeFooter(w.sstLast.Underlying(), codec.FileFooter{Descriptor: *sstDesc}); err != nil {
		return err
	}

	return nil
}

// encodeDirRegion serializes an index directory (var-int entry count, then
// each entry back-to-back) as one self-checksummed region.
func encodeDirRegion[T any](entries []T, put func([]byte, T) int) []byte {
	n := varintPutSize(uint64(len(entries)))
	for _, e := range entries {
		n += put(nil, e)
	}
	content := make([]byte, n)
	off := varintPut(content, uint64(len(entries)))
	for _, e := range entries {
		off += put(content[off:], e)
	}
	return checksumRegion(content)
}

func (w *Writer) writeBloom() (offset, size int64, err error) {
	n := uint(len(w.tables))
	if n == 0 {
		n = 1
	}
	bf := bloom.NewWithEstimates(n, bloomFalsePositiveRate)
	for k := range w.tables {
		bf.Add(tableKeyBytes(k))
	}
	var raw bytes.Buffer
	if _, err := bf.WriteTo(&raw); err != nil {
		return 0, 0, fmt.Errorf("fileset: serialize bloom filter: %w", err)
	}
	region := checksumRegion(raw.Bytes())

	offset, err = w.head.Size()
	if err != nil {
		return 0, 0, err
	}
	if _, err := w.head.Write(region); err != nil {
		return 0, 0, err
	}
	return offset, int64(len(region)), nil
}

func tableKeyBytes(k tableKey) []byte {
	buf := make([]byte, 16)
	putU64LE(buf, k.suid)
	putU64LE(buf[8:], k.uid)
	return buf
}

// writeFooter commits desc by writing it at absolute offset 0, bypassing
// the paged stream entirely.
func writeFooter(bf *bytefile.File, v codec.FileFooter) error {
	buf := naming.EncodeFooter(v)
	_, err := bf.WriteAt(buf, 0)
	return err
}

// Close releases all four underlying file handles. It does not flush or
// write footers — callers call UpdateDFileSetHeader first to commit, then
// Close to release resources.
func (w *Writer) Close(sync bool) error {
	var firstErr error
	for _, p := range []*pagedfile.PagedFD{w.head, w.data, w.sma, w.sstLast} {
		if err := p.Close(sync); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
