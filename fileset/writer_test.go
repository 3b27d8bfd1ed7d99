package fileset

import (
	"errors"
	"os"
	"testing"

	"github.com/flashtsdb/tsdbfile/codec"
	"github.com/flashtsdb/tsdbfile/naming"
	"github.com/flashtsdb/tsdbfile/pagedfile"
)

func nullBitmapFor(nullRows []int, nrow int) []byte {
	buf := make([]byte, (nrow+7)/8)
	for _, i := range nullRows {
		buf[i/8] |= 1 << uint(i%8)
	}
	return buf
}

func writeOneCommit(t *testing.T, root string, vgID int, fid, commitID int64, blk *Block, cmprAlg uint8) (*FileSet, codec.BlockIdx) {
	t.Helper()
	fs := &FileSet{Fid: fid, VgID: vgID}

	w, err := OpenWriter(root, vgID, fid, commitID, fs)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}

	info, err := w.WriteBlockData(blk, cmprAlg, false)
	if err != nil {
		t.Fatalf("WriteBlockData: %v", err)
	}

	dataBlk := codec.DataBlk{SubBlocks: []codec.BlockInfo{info}}
	blockIdx, err := w.WriteBlockIdx(blk.Suid, blk.Uid, dataBlk)
	if err != nil {
		t.Fatalf("WriteBlockIdx: %v", err)
	}

	if err := w.UpdateDFileSetHeader(); err != nil {
		t.Fatalf("UpdateDFileSetHeader: %v", err)
	}
	if err := w.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return fs, blockIdx
}

// TestWriteReadOneBlockRoundTrip matches the one-block, 100-row, two-column
// scenario: an int32-ish int64 column with SMA on, and a varchar (ColBinary)
// column without SMA, uncompressed.
func TestWriteReadOneBlockRoundTrip(t *testing.T) {
	root := t.TempDir()
	const nrow = 100

	ints := make([]int64, nrow)
	tskeys := make([]int64, nrow)
	vers := make([]int64, nrow)
	bins := make([][]byte, nrow)
	for i := 0; i < nrow; i++ {
		ints[i] = int64(i * 7)
		tskeys[i] = int64(1000 + i)
		vers[i] = 1
		bins[i] = []byte{byte(i), byte(i + 1)}
	}

	blk := &Block{
		Suid: 1, Uid: 42, NRow: nrow,
		Versions: vers, TsKeys: tskeys,
		Columns: []ColumnData{
			{Cid: 1, Type: ColInt64, SmaOn: true, Int64Values: ints},
			{Cid: 2, Type: ColBinary, SmaOn: false, BinValues: bins},
		},
	}

	fs, blockIdx := writeOneCommit(t, root, 1, 1, 100, blk, codec.CmprNone)

	r, err := OpenReader(root, 1, 1, fs)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	gotIdx, err := r.ReadBlockIdx()
	if err != nil {
		t.Fatalf("ReadBlockIdx: %v", err)
	}
	if len(gotIdx) != 1 || gotIdx[0] != blockIdx {
		t.Fatalf("block index mismatch: got %+v want %+v", gotIdx, blockIdx)
	}

	md, err := r.ReadBlock(gotIdx[0])
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if len(md.Entries) != 1 || md.Entries[0].Suid != 1 || md.Entries[0].Uid != 42 {
		t.Fatalf("unexpected MapData: %+v", md)
	}

	got, err := r.ReadDataBlock(1, 42, md.Entries[0].Blk, false, []int16{1, 2}, nil)
	if err != nil {
		t.Fatalf("ReadDataBlock: %v", err)
	}
	if got.NRow != nrow {
		t.Fatalf("NRow = %d, want %d", got.NRow, nrow)
	}
	if len(got.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(got.Columns))
	}
	c0 := got.Columns[0]
	if c0.None || c0.AllNull || len(c0.Int64Values) != nrow {
		t.Fatalf("int column mismatch: %+v", c0)
	}
	for i := range ints {
		if c0.Int64Values[i] != ints[i] {
			t.Fatalf("int column value %d: got %d want %d", i, c0.Int64Values[i], ints[i])
		}
	}
	c1 := got.Columns[1]
	if c1.None || c1.AllNull || len(c1.BinValues) != nrow {
		t.Fatalf("binary column mismatch: %+v", c1)
	}
	for i := range bins {
		if string(c1.BinValues[i]) != string(bins[i]) {
			t.Fatalf("binary column value %d mismatch", i)
		}
	}

	if !md.Entries[0].Blk.SubBlocks[0].HasSma {
		t.Fatalf("expected sma to be recorded for the int64 column")
	}
	aggs, err := r.ReadBlockSma(md.Entries[0].Blk.SubBlocks[0].Sma)
	if err != nil {
		t.Fatalf("ReadBlockSma: %v", err)
	}
	if len(aggs) != 1 || aggs[0].Cid != 1 || aggs[0].Count != nrow {
		t.Fatalf("unexpected sma aggs: %+v", aggs)
	}
}

func TestReadBlockDataNoneAndAllNullColumns(t *testing.T) {
	root := t.TempDir()
	const nrow = 8

	ints := make([]int64, nrow)
	tskeys := make([]int64, nrow)
	vers := make([]int64, nrow)
	for i := range ints {
		ints[i] = int64(i)
		tskeys[i] = int64(i)
		vers[i] = 1
	}

	blk := &Block{
		Suid: 2, Uid: 7, NRow: nrow,
		Versions: vers, TsKeys: tskeys,
		Columns: []ColumnData{
			{Cid: 1, Type: ColInt64, Int64Values: ints},
			{Cid: 3, Type: ColFloat64, NullBitmap: nullBitmapFor([]int{0, 1, 2, 3, 4, 5, 6, 7}, nrow), Float64Values: make([]float64, nrow)},
		},
	}

	fs, _ := writeOneCommit(t, root, 2, 1, 1, blk, codec.CmprZstd)

	r, err := OpenReader(root, 2, 1, fs)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	blockIdx, err := r.ReadBlockIdx()
	if err != nil {
		t.Fatalf("ReadBlockIdx: %v", err)
	}
	md, err := r.ReadBlock(blockIdx[0])
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}

	// cid 2 is absent from the directory entirely (NONE); cid 3 is present
	// but flagged HAS_NULL (ALL-NULL); cid 1 reads normally.
	got, err := r.ReadDataBlock(2, 7, md.Entries[0].Blk, false, []int16{1, 2, 3}, nil)
	if err != nil {
		t.Fatalf("ReadDataBlock: %v", err)
	}
	if len(got.Columns) != 3 {
		t.Fatalf("expected 3 columns, got %d", len(got.Columns))
	}
	if got.Columns[0].None || got.Columns[0].AllNull {
		t.Fatalf("cid 1 should read normally: %+v", got.Columns[0])
	}
	if !got.Columns[1].None {
		t.Fatalf("cid 2 should be NONE: %+v", got.Columns[1])
	}
	if !got.Columns[2].AllNull {
		t.Fatalf("cid 3 should be ALL-NULL: %+v", got.Columns[2])
	}
	for i := 0; i < nrow; i++ {
		if !bitmapGet(got.Columns[2].NullBitmap, i) {
			t.Fatalf("cid 3 row %d should be flagged null", i)
		}
	}
}

func TestEmptyBlockIndex(t *testing.T) {
	root := t.TempDir()
	fs := &FileSet{Fid: 1, VgID: 3}

	w, err := OpenWriter(root, 3, 1, 1, fs)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if err := w.UpdateDFileSetHeader(); err != nil {
		t.Fatalf("UpdateDFileSetHeader: %v", err)
	}
	if err := w.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(root, 3, 1, fs)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	idx, err := r.ReadBlockIdx()
	if err != nil {
		t.Fatalf("ReadBlockIdx: %v", err)
	}
	if len(idx) != 0 {
		t.Fatalf("expected empty block index, got %+v", idx)
	}
	if err := VerifyFileSet(root, 3, 1, fs); err != nil {
		t.Fatalf("VerifyFileSet on empty file set: %v", err)
	}
}

func TestSuperTableBlockCarriesUidStream(t *testing.T) {
	root := t.TempDir()
	uids := []uint64{11, 11, 12, 12}

	blk := &Block{
		Suid: 100, Uid: 0, NRow: 4,
		Uids:     uids,
		Versions: []int64{1, 1, 1, 1},
		TsKeys:   []int64{1, 2, 3, 4},
		Columns:  []ColumnData{{Cid: 1, Type: ColInt64, Int64Values: []int64{5, 6, 7, 8}}},
	}
	fs, _ := writeOneCommit(t, root, 7, 1, 1, blk, codec.CmprZstd)

	r, err := OpenReader(root, 7, 1, fs)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	idx, err := r.ReadBlockIdx()
	if err != nil {
		t.Fatalf("ReadBlockIdx: %v", err)
	}
	md, err := r.ReadBlock(idx[0])
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	got, err := r.ReadDataBlock(100, 0, md.Entries[0].Blk, false, []int16{1}, nil)
	if err != nil {
		t.Fatalf("ReadDataBlock: %v", err)
	}
	if len(got.Uids) != len(uids) {
		t.Fatalf("expected %d per-row uids, got %d", len(uids), len(got.Uids))
	}
	for i := range uids {
		if got.Uids[i] != uids[i] {
			t.Fatalf("uid[%d] = %d, want %d", i, got.Uids[i], uids[i])
		}
	}
}

func TestHeadCorruptionFailsReadBlockIdx(t *testing.T) {
	root := t.TempDir()

	blk := &Block{
		Suid: 1, Uid: 2, NRow: 2,
		Versions: []int64{1, 1},
		TsKeys:   []int64{1, 2},
		Columns:  []ColumnData{{Cid: 1, Type: ColInt64, Int64Values: []int64{1, 2}}},
	}
	fs, _ := writeOneCommit(t, root, 8, 1, 1, blk, codec.CmprNone)

	path := naming.HeadPath(root, 8, 1, fs.Head.CommitID)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[naming.FHDRSize+7] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	// The flip lands in the head body's first page, so whichever head read
	// touches it first (the bloom load at open or the directory read) must
	// report corruption.
	r, err := OpenReader(root, 8, 1, fs)
	if err == nil {
		_, err = r.ReadBlockIdx()
		r.Close()
	}
	if !errors.Is(err, pagedfile.ErrFileCorrupted) {
		t.Fatalf("expected ErrFileCorrupted, got %v", err)
	}
}

func TestReadBlockDataCorruptionDetected(t *testing.T) {
	root := t.TempDir()
	const nrow = 4

	blk := &Block{
		Suid: 5, Uid: 9, NRow: nrow,
		Versions: []int64{1, 1, 1, 1},
		TsKeys:   []int64{1, 2, 3, 4},
		Columns: []ColumnData{
			{Cid: 1, Type: ColInt64, Int64Values: []int64{10, 20, 30, 40}},
		},
	}

	fs, _ := writeOneCommit(t, root, 5, 1, 1, blk, codec.CmprNone)

	path := naming.DataPath(root, 5, 1, fs.Data.CommitID)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a byte well inside the paged body, past the reserved footer
	// block, to corrupt the key region's page checksum.
	raw[naming.FHDRSize+10] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := VerifyFileSet(root, 5, 1, fs); err == nil {
		t.Fatalf("expected VerifyFileSet to detect corruption")
	}
}

func TestWriteReadSstBlock(t *testing.T) {
	root := t.TempDir()
	const nrow = 5

	blk := &Block{
		Suid: 3, Uid: 8, NRow: nrow,
		Versions: []int64{1, 1, 1, 1, 1},
		TsKeys:   []int64{10, 20, 30, 40, 50},
		Columns: []ColumnData{
			{Cid: 1, Type: ColFloat64, SmaOn: true, Float64Values: []float64{1.5, 2.5, 3.5, 4.5, 5.5}},
		},
	}

	fs := &FileSet{Fid: 2, VgID: 4}
	w, err := OpenWriter(root, 4, 2, 1, fs)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	info, err := w.WriteBlockData(blk, codec.CmprZstd, true)
	if err != nil {
		t.Fatalf("WriteBlockData(toLast): %v", err)
	}
	if fs.Sst[0].Size != int64(info.SzBlock) {
		t.Fatalf("sst[0] size advanced by %d, want exactly szBlock=%d", fs.Sst[0].Size, info.SzBlock)
	}
	if !info.HasSma || fs.Sma.Size != info.Sma.Size {
		t.Fatalf("sma size advanced by %d, want exactly the aggregate region length %d", fs.Sma.Size, info.Sma.Size)
	}
	dataBlk := codec.DataBlk{SubBlocks: []codec.BlockInfo{info}}
	sstEntry, err := w.WriteSstBlk(blk.Suid, blk.Uid, dataBlk)
	if err != nil {
		t.Fatalf("WriteSstBlk: %v", err)
	}
	if err := w.UpdateDFileSetHeader(); err != nil {
		t.Fatalf("UpdateDFileSetHeader: %v", err)
	}
	if err := w.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(root, 4, 2, fs)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	sstIdx, err := r.ReadSstBlk(0)
	if err != nil {
		t.Fatalf("ReadSstBlk: %v", err)
	}
	if len(sstIdx) != 1 || sstIdx[0] != sstEntry {
		t.Fatalf("sst index mismatch: got %+v want %+v", sstIdx, sstEntry)
	}

	md, err := r.ReadSstBlockMap(0, sstIdx[0])
	if err != nil {
		t.Fatalf("ReadSstBlockMap: %v", err)
	}
	if len(md.Entries) != 1 || md.Entries[0].Suid != 3 || md.Entries[0].Uid != 8 {
		t.Fatalf("unexpected sst MapData: %+v", md)
	}

	got, err := r.ReadSstBlock(0, md.Entries[0].Blk.SubBlocks[0], 3, 8, []int16{1})
	if err != nil {
		t.Fatalf("ReadSstBlock: %v", err)
	}
	if got.NRow != nrow {
		t.Fatalf("NRow = %d, want %d", got.NRow, nrow)
	}
	for i, want := range []float64{1.5, 2.5, 3.5, 4.5, 5.5} {
		if got.Columns[0].Float64Values[i] != want {
			t.Fatalf("float value %d: got %v want %v", i, got.Columns[0].Float64Values[i], want)
		}
	}
}

func TestSecondCommitAppendsToDataFile(t *testing.T) {
	root := t.TempDir()

	mkBlock := func(base int64) *Block {
		return &Block{
			Suid: 1, Uid: 6, NRow: 2,
			Versions: []int64{1, 1},
			TsKeys:   []int64{base, base + 1},
			Columns:  []ColumnData{{Cid: 1, Type: ColInt64, Int64Values: []int64{base * 10, base*10 + 10}}},
		}
	}

	fs, _ := writeOneCommit(t, root, 6, 3, 1, mkBlock(100), codec.CmprNone)

	// Second commit: head and sst are fresh at the new commit id; data is
	// reopened and appended to. sma is still empty after the first commit
	// (no SmaOn column), so it is created fresh at the new commit id.
	w, err := OpenWriter(root, 6, 3, 2, fs)
	if err != nil {
		t.Fatalf("OpenWriter(second commit): %v", err)
	}
	blk2 := mkBlock(200)
	info, err := w.WriteBlockData(blk2, codec.CmprNone, false)
	if err != nil {
		t.Fatalf("WriteBlockData: %v", err)
	}
	if info.Offset == 0 {
		t.Fatalf("second commit's block should land past the first commit's data")
	}
	if _, err := w.WriteBlockIdx(blk2.Suid, blk2.Uid, codec.DataBlk{SubBlocks: []codec.BlockInfo{info}}); err != nil {
		t.Fatalf("WriteBlockIdx: %v", err)
	}
	if err := w.UpdateDFileSetHeader(); err != nil {
		t.Fatalf("UpdateDFileSetHeader: %v", err)
	}
	if err := w.Close(true); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := OpenReader(root, 6, 3, fs)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	idx, err := r.ReadBlockIdx()
	if err != nil {
		t.Fatalf("ReadBlockIdx: %v", err)
	}
	if len(idx) != 1 {
		t.Fatalf("expected the second commit's head to list 1 table, got %d", len(idx))
	}
	md, err := r.ReadBlock(idx[0])
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	got, err := r.ReadDataBlock(1, 6, md.Entries[0].Blk, false, []int16{1}, nil)
	if err != nil {
		t.Fatalf("ReadDataBlock: %v", err)
	}
	want := []int64{2000, 2010}
	for i := range want {
		if got.Columns[0].Int64Values[i] != want[i] {
			t.Fatalf("value %d: got %d want %d", i, got.Columns[0].Int64Values[i], want[i])
		}
	}
}

func TestFileSetCopy(t *testing.T) {
	srcRoot := t.TempDir()
	dstRoot := t.TempDir()

	blk := &Block{
		Suid: 1, Uid: 1, NRow: 3,
		Versions: []int64{1, 1, 1},
		TsKeys:   []int64{1, 2, 3},
		Columns: []ColumnData{
			{Cid: 1, Type: ColInt64, Int64Values: []int64{1, 2, 3}},
		},
	}
	fs, _ := writeOneCommit(t, srcRoot, 1, 1, 1, blk, codec.CmprNone)

	if err := Copy(srcRoot, 1, 1, fs, dstRoot, 9); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	if err := VerifyFileSet(dstRoot, 9, 1, fs); err != nil {
		t.Fatalf("VerifyFileSet on copy destination: %v", err)
	}

	srcData, err := os.ReadFile(naming.DataPath(srcRoot, 1, 1, fs.Data.CommitID))
	if err != nil {
		t.Fatal(err)
	}
	dstData, err := os.ReadFile(naming.DataPath(dstRoot, 9, 1, fs.Data.CommitID))
	if err != nil {
		t.Fatal(err)
	}
	if string(srcData) != string(dstData) {
		t.Fatalf("copied data file is not byte-identical to source")
	}
}
