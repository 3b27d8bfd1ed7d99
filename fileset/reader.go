package fileset

import (
	"bytes"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/flashtsdb/tsdbfile/bytefile"
	"github.com/flashtsdb/tsdbfile/checksum"
	"github.com/flashtsdb/tsdbfile/codec"
	"github.com/flashtsdb/tsdbfile/compress"
	"github.com/flashtsdb/tsdbfile/naming"
	"github.com/flashtsdb/tsdbfile/pagedfile"
)

// BlockMerger is the external collaborator ReadDataBlock delegates to in
// place of tBlockDataMerge: merge two sorted sub-blocks of the same schema
// into a third.
// Compaction and arithmetic kernels are out of scope; this module only
// needs the merge contract to reassemble a multi-sub-block DataBlk on
// read.
type BlockMerger interface {
	Merge(a, b *Block) (*Block, error)
}

// Reader opens the four (or more, for sst) members of a committed file
// set read-only. The caller supplies fs with already-loaded descriptors.
type Reader struct {
	root string
	vgID int
	fid  int64

	desc *FileSet

	head *pagedfile.PagedFD
	data *pagedfile.PagedFD
	sma  *pagedfile.PagedFD
	sst  []*pagedfile.PagedFD

	bloom *bloom.BloomFilter
}

// LoadFileSet reads the four members' footers from disk (plus every
// discovered sst member) and assembles a FileSet ready to pass to
// OpenReader. This is the "caller supplies SDFileSet with already-loaded
// descriptors" step an engine with a catalog normally handles by
// tracking commit ids itself; this helper derives them from
// naming.DiscoverSstMembers plus the footer each member already carries.
func LoadFileSet(root string, vgID int, fid, headCommit, dataCommit, smaCommit int64) (*FileSet, error) {
	headFooter, err := naming.ReadFooter(naming.HeadPath(root, vgID, fid, headCommit))
	if err != nil {
		return nil, fmt.Errorf("fileset: load head footer: %w", err)
	}
	dataFooter, err := naming.ReadFooter(naming.DataPath(root, vgID, fid, dataCommit))
	if err != nil {
		return nil, fmt.Errorf("fileset: load data footer: %w", err)
	}
	smaFooter, err := naming.ReadFooter(naming.SmaPath(root, vgID, fid, smaCommit))
	if err != nil {
		return nil, fmt.Errorf("fileset: load sma footer: %w", err)
	}

	members, err := naming.DiscoverSstMembers(naming.VnodeDir(root, vgID), vgID, fid)
	if err != nil {
		return nil, fmt.Errorf("fileset: discover sst members: %w", err)
	}

	fs := &FileSet{
		Fid: fid, VgID: vgID,
		Head:            headFooter.Descriptor,
		Data:            dataFooter.Descriptor,
		Sma:             smaFooter.Descriptor,
		HeadBloomOffset: headFooter.BloomOffset,
		HeadBloomSize:   headFooter.BloomSize,
	}
	for _, m := range members {
		footer, err := naming.ReadFooter(m.Path)
		if err != nil {
			return nil, fmt.Errorf("fileset: load sst[%d] footer: %w", m.Index, err)
		}
		fs.Sst = append(fs.Sst, footer.Descriptor)
	}

	return fs, nil
}

// OpenReader opens all four files (plus every sst[i]) read-only as
// PagedFDs. It loads the head's table-existence bloom filter (if
// present) so HasTable can short-circuit ReadBlockIdx.
func OpenReader(root string, vgID int, fid int64, fs *FileSet) (*Reader, error) {
	r := &Reader{root: root, vgID: vgID, fid: fid, desc: fs}

	var err error
	if r.head, err = openReadOnly(naming.HeadPath(root, vgID, fid, fs.Head.CommitID)); err != nil {
		return nil, err
	}
	if r.data, err = openReadOnly(naming.DataPath(root, vgID, fid, fs.Data.CommitID)); err != nil {
		r.head.Close(false)
		return nil, err
	}
	if r.sma, err = openReadOnly(naming.SmaPath(root, vgID, fid, fs.Sma.CommitID)); err != nil {
		r.head.Close(false)
		r.data.Close(false)
		return nil, err
	}

	for i, sd := range fs.Sst {
		p, err := openReadOnly(naming.SstPath(root, vgID, fid, sd.CommitID, i))
		if err != nil {
			r.closeAll()
			return nil, err
		}
		r.sst = append(r.sst, p)
	}

	if fs.HeadBloomSize > 0 {
		raw := make([]byte, fs.HeadBloomSize)
		if err := r.head.Read(fs.HeadBloomOffset, raw); err != nil {
			r.closeAll()
			return nil, err
		}
		content, err := verifyRegion(raw)
		if err != nil {
			r.closeAll()
			return nil, fmt.Errorf("%w: bloom filter region: %v", pagedfile.ErrFileCorrupted, err)
		}
		bf := &bloom.BloomFilter{}
		if _, err := bf.ReadFrom(bytes.NewReader(content)); err != nil {
			r.closeAll()
			return nil, fmt.Errorf("fileset: decode bloom filter: %w", err)
		}
		r.bloom = bf
	}

	return r, nil
}

// HasTable reports whether (suid, uid) is possibly present in this file
// set, using the head file's table-existence bloom filter without paying
// for ReadBlockIdx. Always true if no bloom filter was loaded.
func (r *Reader) HasTable(suid, uid uint64) bool {
	if r.bloom == nil {
		return true
	}
	return r.bloom.Test(tableKeyBytes(tableKey{suid, uid}))
}

func openReadOnly(path string) (*pagedfile.PagedFD, error) {
	bf, err := bytefile.Open(path, bytefile.FlagRead)
	if err != nil {
		return nil, err
	}
	return pagedfile.Open(bf, bytefile.FlagRead, pagedfile.WithBaseOffset(int64(naming.FHDRSize)))
}

func (r *Reader) closeAll() {
	r.head.Close(false)
	r.data.Close(false)
	r.sma.Close(false)
	for _, p := range r.sst {
		p.Close(false)
	}
}

// Close releases every open member.
func (r *Reader) Close() error {
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	note(r.head.Close(false))
	note(r.data.Close(false))
	note(r.sma.Close(false))
	for _, p := range r.sst {
		note(p.Close(false))
	}
	return firstErr
}

// ReadBlockIdx reads the head file's directory region — everything from
// Head.Offset up to the bloom filter (or to Head.Size when no bloom was
// recorded) — and decodes it into a BlockIdx list.
func (r *Reader) ReadBlockIdx() ([]codec.BlockIdx, error) {
	end := r.desc.Head.Size
	if r.desc.HeadBloomSize > 0 {
		end = r.desc.HeadBloomOffset
	}
	return readIdxList[codec.BlockIdx](r.head, r.desc.Head.Offset, end-r.desc.Head.Offset, codec.GetBlockIdx)
}

// ReadSstBlk mirrors ReadBlockIdx over sst[i]'s own directory region,
// which runs from the member's Offset to its Size.
func (r *Reader) ReadSstBlk(i int) ([]codec.SstBlk, error) {
	if i < 0 || i >= len(r.sst) {
		return nil, fmt.Errorf("fileset: sst index %d out of range", i)
	}
	return readIdxList[codec.SstBlk](r.sst[i], r.desc.Sst[i].Offset, r.desc.Sst[i].Size-r.desc.Sst[i].Offset, codec.GetSstBlk)
}

func readIdxList[T any](p *pagedfile.PagedFD, offset, length int64, get func([]byte, *T) (int, error)) ([]T, error) {
	if length == 0 {
		return nil, nil
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: negative index region length %d", pagedfile.ErrFileCorrupted, length)
	}
	raw := make([]byte, length)
	if err := p.Read(offset, raw); err != nil {
		return nil, err
	}
	content, err := verifyRegion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagedfile.ErrFileCorrupted, err)
	}

	count, n := varintGet(content)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad entry count", pagedfile.ErrFileCorrupted)
	}
	content = content[n:]

	out := make([]T, count)
	consumed := 0
	for i := range out {
		n, err := get(content[consumed:], &out[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pagedfile.ErrFileCorrupted, err)
		}
		consumed += n
	}
	if consumed != len(content) {
		return nil, fmt.Errorf("%w: index region size mismatch (consumed %d of %d)", pagedfile.ErrFileCorrupted, consumed, len(content))
	}
	return out, nil
}

// ReadBlock reads and decodes the MapData addressed by blockIdx.
func (r *Reader) ReadBlock(blockIdx codec.BlockIdx) (codec.MapData, error) {
	return readMapData(r.head, blockIdx.Offset, blockIdx.Size)
}

// ReadSstBlockMap reads and decodes the MapData an SstBlk entry addresses
// inside sst[i].
func (r *Reader) ReadSstBlockMap(i int, sb codec.SstBlk) (codec.MapData, error) {
	if i < 0 || i >= len(r.sst) {
		return codec.MapData{}, fmt.Errorf("fileset: sst index %d out of range", i)
	}
	return readMapData(r.sst[i], sb.Offset, sb.Size)
}

func readMapData(p *pagedfile.PagedFD, offset, size int64) (codec.MapData, error) {
	raw := make([]byte, size)
	if err := p.Read(offset, raw); err != nil {
		return codec.MapData{}, err
	}
	content, err := verifyRegion(raw)
	if err != nil {
		return codec.MapData{}, fmt.Errorf("%w: %v", pagedfile.ErrFileCorrupted, err)
	}
	var md codec.MapData
	if _, err := codec.GetMapData(content, &md); err != nil {
		return codec.MapData{}, fmt.Errorf("%w: %v", pagedfile.ErrFileCorrupted, err)
	}
	return md, nil
}

// ReadDataBlock reconstructs the logical Block a DataBlk represents,
// reading its first sub-block directly and folding in any additional
// sub-block via merger.
func (r *Reader) ReadDataBlock(suid, uid uint64, blk codec.DataBlk, fromLast bool, cols []int16, merger BlockMerger) (*Block, error) {
	if len(blk.SubBlocks) == 0 {
		return nil, fmt.Errorf("fileset: data block has no sub-blocks")
	}
	if len(blk.SubBlocks) > 1 && merger == nil {
		return nil, fmt.Errorf("fileset: multi-sub-block read requires a merger")
	}

	result, err := r.ReadBlockDataImpl(blk.SubBlocks[0], fromLast, suid, uid, cols)
	if err != nil {
		return nil, err
	}

	for i := 1; i < len(blk.SubBlocks); i++ {
		next, err := r.ReadBlockDataImpl(blk.SubBlocks[i], fromLast, suid, uid, cols)
		if err != nil {
			return nil, err
		}
		merged, err := merger.Merge(result, next)
		if err != nil {
			return nil, fmt.Errorf("fileset: merge sub-blocks: %w", err)
		}
		result = merged
	}
	return result, nil
}

// ReadBlockDataImpl reads one sub-block's disk-data header, key streams,
// and (if cols is non-empty) the requested columns from the block-column
// directory. Every interior read error is propagated unchanged to the
// caller rather than being swallowed or retried.
func (r *Reader) ReadBlockDataImpl(bi codec.BlockInfo, fromLast bool, expectSuid, expectUid uint64, cols []int16) (*Block, error) {
	target := r.data
	if fromLast {
		if len(r.sst) == 0 {
			return nil, fmt.Errorf("fileset: no sst member to read from")
		}
		target = r.sst[len(r.sst)-1]
	}
	return r.readBlockDataFrom(target, bi, expectSuid, expectUid, cols)
}

func (r *Reader) readBlockDataFrom(target *pagedfile.PagedFD, bi codec.BlockInfo, expectSuid, expectUid uint64, cols []int16) (*Block, error) {
	keyRaw := make([]byte, bi.SzKey)
	if err := target.Read(bi.Offset, keyRaw); err != nil {
		return nil, err
	}
	keyContent, err := verifyRegion(keyRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: key region: %v", pagedfile.ErrFileCorrupted, err)
	}

	var hdr codec.DiskDataHdr
	hn, err := codec.GetDiskDataHdr(keyContent, &hdr)
	if err != nil {
		return nil, fmt.Errorf("%w: disk-data header: %v", pagedfile.ErrFileCorrupted, err)
	}
	if hdr.Delimiter != codec.TSDBFileDlmt {
		return nil, fmt.Errorf("%w: disk-data delimiter mismatch: got %#x", pagedfile.ErrFileCorrupted, hdr.Delimiter)
	}
	if hdr.Suid != expectSuid || hdr.Uid != expectUid {
		return nil, fmt.Errorf("%w: disk-data identity mismatch: got (%d,%d) want (%d,%d)", pagedfile.ErrFileCorrupted, hdr.Suid, hdr.Uid, expectSuid, expectUid)
	}

	rest := keyContent[hn:]
	if int64(hdr.SzUid)+int64(hdr.SzVer)+int64(hdr.SzKey) > int64(len(rest)) {
		return nil, fmt.Errorf("%w: key stream sizes exceed region", pagedfile.ErrFileCorrupted)
	}
	uidC, rest := rest[:hdr.SzUid], rest[hdr.SzUid:]
	verC, rest := rest[:hdr.SzVer], rest[hdr.SzVer:]
	tskeyC := rest[:hdr.SzKey]

	blk := &Block{Suid: hdr.Suid, Uid: hdr.Uid, NRow: hdr.NRow}

	if hdr.Uid == 0 && len(uidC) > 0 {
		uidRaw, err := compress.Decode(hdr.CmprAlg, uidC, int(hdr.NRow)*8)
		if err != nil {
			return nil, fmt.Errorf("fileset: decompress uid stream: %w", err)
		}
		blk.Uids = unpackUint64(uidRaw, int(hdr.NRow))
	}
	verRaw, err := compress.Decode(hdr.CmprAlg, verC, int(hdr.NRow)*8)
	if err != nil {
		return nil, fmt.Errorf("fileset: decompress version stream: %w", err)
	}
	blk.Versions = unpackInt64(verRaw, int(hdr.NRow))

	tskeyRaw, err := compress.Decode(hdr.CmprAlg, tskeyC, int(hdr.NRow)*8)
	if err != nil {
		return nil, fmt.Errorf("fileset: decompress tskey stream: %w", err)
	}
	blk.TsKeys = unpackInt64(tskeyRaw, int(hdr.NRow))

	if len(cols) == 0 {
		return blk, nil
	}

	dirRaw := make([]byte, int64(hdr.SzBlkCol)+checksumSizeInt64())
	if err := target.Read(bi.Offset+int64(bi.SzKey), dirRaw); err != nil {
		return nil, err
	}
	dirContent, err := verifyRegion(dirRaw)
	if err != nil {
		return nil, fmt.Errorf("%w: block-column directory: %v", pagedfile.ErrFileCorrupted, err)
	}

	entries, err := decodeBlockColDir(dirContent)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pagedfile.ErrFileCorrupted, err)
	}

	colBase := bi.Offset + int64(bi.SzKey) + int64(hdr.SzBlkCol) + checksumSizeInt64()
	dirCursor := 0
	resolved := bitset.New(uint(len(cols)))
	for ci, cid := range cols {
		col := ColumnData{Cid: cid}

		for dirCursor < len(entries) && entries[dirCursor].Cid < cid {
			dirCursor++
		}

		if dirCursor >= len(entries) || entries[dirCursor].Cid > cid {
			// directory exhausted or entry cid > requested cid: nRow NONE values.
			col.None = true
			blk.Columns = append(blk.Columns, col)
			resolved.Set(uint(ci))
			continue
		}
		if entries[dirCursor].Flag&codec.ColFlagHasNull != 0 {
			// entry flag HAS_NULL: nRow NULL values, no payload region to read.
			col.Type = ColumnType(entries[dirCursor].Type)
			col.AllNull = true
			col.NullBitmap = allOnesBitmap(int(hdr.NRow))
			blk.Columns = append(blk.Columns, col)
			resolved.Set(uint(ci))
			dirCursor++
			continue
		}

		e := entries[dirCursor]
		dirCursor++
		col.Type = ColumnType(e.Type)

		regionLen := int64(e.SzBitmap) + int64(e.SzOffset) + int64(e.SzValue) + checksumSizeInt64()
		raw := make([]byte, regionLen)
		if err := target.Read(colBase+int64(e.Offset), raw); err != nil {
			return nil, err
		}
		content, err := verifyRegion(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d payload: %v", pagedfile.ErrFileCorrupted, cid, err)
		}

		bitmapC, content := content[:e.SzBitmap], content[e.SzBitmap:]
		offsetsC, content := content[:e.SzOffset], content[e.SzOffset:]
		valuesC := content[:e.SzValue]

		nullBitmap, err := compress.Decode(hdr.CmprAlg, bitmapC, (int(hdr.NRow)+7)/8)
		if err != nil {
			return nil, fmt.Errorf("fileset: decompress column %d bitmap: %w", cid, err)
		}
		col.NullBitmap = nullBitmap

		if err := decodeColumnValues(&col, hdr, offsetsC, valuesC); err != nil {
			return nil, err
		}

		blk.Columns = append(blk.Columns, col)
		resolved.Set(uint(ci))
	}

	if resolved.Count() != uint(len(cols)) {
		return nil, fmt.Errorf("fileset: resolved %d of %d requested columns", resolved.Count(), len(cols))
	}

	return blk, nil
}

func decodeColumnValues(col *ColumnData, hdr codec.DiskDataHdr, offsetsC, valuesC []byte) error {
	switch col.Type {
	case ColInt64:
		raw, err := compress.Decode(hdr.CmprAlg, valuesC, int(hdr.NRow)*8)
		if err != nil {
			return fmt.Errorf("fileset: decompress column values: %w", err)
		}
		col.Int64Values = unpackInt64(raw, int(hdr.NRow))
	case ColFloat64:
		raw, err := compress.Decode(hdr.CmprAlg, valuesC, int(hdr.NRow)*8)
		if err != nil {
			return fmt.Errorf("fileset: decompress column values: %w", err)
		}
		col.Float64Values = unpackFloat64(raw, int(hdr.NRow))
	case ColBinary:
		offsetsRaw, err := compress.Decode(hdr.CmprAlg, offsetsC, (int(hdr.NRow)+1)*8)
		if err != nil {
			return fmt.Errorf("fileset: decompress column offsets: %w", err)
		}
		offs := unpackUint64(offsetsRaw, int(hdr.NRow)+1)
		total := 0
		if len(offs) > 0 {
			total = int(offs[len(offs)-1])
		}
		valuesRaw, err := compress.Decode(hdr.CmprAlg, valuesC, total)
		if err != nil {
			return fmt.Errorf("fileset: decompress column values: %w", err)
		}
		col.BinValues = make([][]byte, hdr.NRow)
		for i := 0; i < int(hdr.NRow); i++ {
			col.BinValues[i] = valuesRaw[offs[i]:offs[i+1]]
		}
	}
	return nil
}

func allOnesBitmap(nrow int) []byte {
	buf := make([]byte, (nrow+7)/8)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

// ReadBlockSma reads and decodes a block's pre-aggregated column
// statistics from the sma file.
func (r *Reader) ReadBlockSma(info codec.SmaInfo) ([]codec.SmaAgg, error) {
	if info.Size == 0 {
		return nil, nil
	}
	raw := make([]byte, info.Size)
	if err := r.sma.Read(info.Offset, raw); err != nil {
		return nil, err
	}
	content, err := verifyRegion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: sma region: %v", pagedfile.ErrFileCorrupted, err)
	}

	count, n := varintGet(content)
	content = content[n:]
	out := make([]codec.SmaAgg, count)
	off := 0
	for i := range out {
		n, err := codec.GetSmaAgg(content[off:], &out[i])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pagedfile.ErrFileCorrupted, err)
		}
		off += n
	}
	return out, nil
}

// ReadSstBlock is ReadBlockDataImpl addressed at a specific sst member:
// the same key-stream + column-directory read pattern, applied over
// sst[i] instead of the data file.
func (r *Reader) ReadSstBlock(i int, bi codec.BlockInfo, suid, uid uint64, cols []int16) (*Block, error) {
	if i < 0 || i >= len(r.sst) {
		return nil, fmt.Errorf("fileset: sst index %d out of range", i)
	}
	return r.readBlockDataFrom(r.sst[i], bi, suid, uid, cols)
}

func decodeBlockColDir(buf []byte) ([]codec.BlockColEntry, error) {
	var entries []codec.BlockColEntry
	off := 0
	for off < len(buf) {
		var e codec.BlockColEntry
		n, err := codec.GetBlockColEntry(buf[off:], &e)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		off += n
	}
	return entries, nil
}

func checksumSizeInt64() int64 { return int64(checksum.Size) }
