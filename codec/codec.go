package codec

// PutBlockIdx encodes a BlockIdx. PutBlockIdx(nil, v) returns the size it
// would occupy without writing.
func PutBlockIdx(buf []byte, v BlockIdx) int {
	p := newPutter(buf)
	p.uvarint(v.Suid)
	p.uvarint(v.Uid)
	p.varint(v.Offset)
	p.varint(v.Size)
	return p.size()
}

// GetBlockIdx decodes a BlockIdx, returning the number of bytes consumed.
func GetBlockIdx(buf []byte, v *BlockIdx) (int, error) {
	g := newGetter(buf)
	v.Suid = g.uvarint()
	v.Uid = g.uvarint()
	v.Offset = g.varint()
	v.Size = g.varint()
	return g.result()
}

// PutSmaInfo encodes a SmaInfo.
func PutSmaInfo(buf []byte, v SmaInfo) int {
	p := newPutter(buf)
	p.varint(v.Offset)
	p.varint(v.Size)
	return p.size()
}

// GetSmaInfo decodes a SmaInfo.
func GetSmaInfo(buf []byte, v *SmaInfo) (int, error) {
	g := newGetter(buf)
	v.Offset = g.varint()
	v.Size = g.varint()
	return g.result()
}

// PutBlockInfo encodes a BlockInfo, including its embedded SmaInfo when
// present.
func PutBlockInfo(buf []byte, v BlockInfo) int {
	p := newPutter(buf)
	p.varint(v.Offset)
	p.uvarint(uint64(v.SzKey))
	p.uvarint(uint64(v.SzBlock))
	if v.HasSma {
		p.u8(1)
		p.varint(v.Sma.Offset)
		p.varint(v.Sma.Size)
	} else {
		p.u8(0)
	}
	return p.size()
}

// GetBlockInfo decodes a BlockInfo.
func GetBlockInfo(buf []byte, v *BlockInfo) (int, error) {
	g := newGetter(buf)
	v.Offset = g.varint()
	v.SzKey = uint32(g.uvarint())
	v.SzBlock = uint32(g.uvarint())
	if g.u8() != 0 {
		v.HasSma = true
		v.Sma.Offset = g.varint()
		v.Sma.Size = g.varint()
	} else {
		v.HasSma = false
		v.Sma = SmaInfo{}
	}
	return g.result()
}

// PutDataBlk encodes a DataBlk: a var-int sub-block count followed by each
// BlockInfo in order.
func PutDataBlk(buf []byte, v DataBlk) int {
	p := newPutter(buf)
	p.uvarint(uint64(len(v.SubBlocks)))
	for _, sb := range v.SubBlocks {
		n := PutBlockInfo(subslice(buf, p.off), sb)
		p.off += n
	}
	return p.size()
}

// GetDataBlk decodes a DataBlk.
func GetDataBlk(buf []byte, v *DataBlk) (int, error) {
	g := newGetter(buf)
	count := g.uvarint()
	if g.err != nil {
		return g.result()
	}
	v.SubBlocks = make([]BlockInfo, count)
	for i := range v.SubBlocks {
		n, err := GetBlockInfo(buf[g.off:], &v.SubBlocks[i])
		if err != nil {
			g.err = err
			return g.result()
		}
		g.off += n
	}
	return g.result()
}

// PutMapData encodes a MapData: a var-int entry count followed by each
// (suid, uid, DataBlk) entry.
func PutMapData(buf []byte, v MapData) int {
	p := newPutter(buf)
	p.uvarint(uint64(len(v.Entries)))
	for _, e := range v.Entries {
		p.uvarint(e.Suid)
		p.uvarint(e.Uid)
		n := PutDataBlk(subslice(buf, p.off), e.Blk)
		p.off += n
	}
	return p.size()
}

// GetMapData decodes a MapData.
func GetMapData(buf []byte, v *MapData) (int, error) {
	g := newGetter(buf)
	count := g.uvarint()
	if g.err != nil {
		return g.result()
	}
	v.Entries = make([]MapDataEntry, count)
	for i := range v.Entries {
		v.Entries[i].Suid = g.uvarint()
		v.Entries[i].Uid = g.uvarint()
		if g.err != nil {
			return g.result()
		}
		n, err := GetDataBlk(buf[g.off:], &v.Entries[i].Blk)
		if err != nil {
			g.err = err
			return g.result()
		}
		g.off += n
	}
	return g.result()
}

// PutDiskDataHdr encodes a DiskDataHdr.
func PutDiskDataHdr(buf []byte, v DiskDataHdr) int {
	p := newPutter(buf)
	p.u32(v.Delimiter)
	p.uvarint(v.Suid)
	p.uvarint(v.Uid)
	p.uvarint(uint64(v.NRow))
	p.u8(v.CmprAlg)
	p.u32(v.SzUid)
	p.u32(v.SzVer)
	p.u32(v.SzKey)
	p.u32(v.SzBlkCol)
	return p.size()
}

// GetDiskDataHdr decodes a DiskDataHdr.
func GetDiskDataHdr(buf []byte, v *DiskDataHdr) (int, error) {
	g := newGetter(buf)
	v.Delimiter = g.u32()
	v.Suid = g.uvarint()
	v.Uid = g.uvarint()
	v.NRow = uint32(g.uvarint())
	v.CmprAlg = g.u8()
	v.SzUid = g.u32()
	v.SzVer = g.u32()
	v.SzKey = g.u32()
	v.SzBlkCol = g.u32()
	return g.result()
}

// PutBlockColEntry encodes one block-column directory entry.
func PutBlockColEntry(buf []byte, v BlockColEntry) int {
	p := newPutter(buf)
	p.i16(v.Cid)
	p.u8(v.Type)
	p.u8(v.Flag)
	p.u32(v.Offset)
	p.u32(v.SzBitmap)
	p.u32(v.SzOffset)
	p.u32(v.SzValue)
	return p.size()
}

// GetBlockColEntry decodes one block-column directory entry.
func GetBlockColEntry(buf []byte, v *BlockColEntry) (int, error) {
	g := newGetter(buf)
	v.Cid = g.i16()
	v.Type = g.u8()
	v.Flag = g.u8()
	v.Offset = g.u32()
	v.SzBitmap = g.u32()
	v.SzOffset = g.u32()
	v.SzValue = g.u32()
	return g.result()
}

// PutSstBlk encodes an SstBlk.
func PutSstBlk(buf []byte, v SstBlk) int {
	p := newPutter(buf)
	p.uvarint(v.Suid)
	p.uvarint(v.Uid)
	p.varint(v.Offset)
	p.varint(v.Size)
	return p.size()
}

// GetSstBlk decodes an SstBlk.
func GetSstBlk(buf []byte, v *SstBlk) (int, error) {
	g := newGetter(buf)
	v.Suid = g.uvarint()
	v.Uid = g.uvarint()
	v.Offset = g.varint()
	v.Size = g.varint()
	return g.result()
}

// PutDelData encodes a DelData.
func PutDelData(buf []byte, v DelData) int {
	p := newPutter(buf)
	p.uvarint(v.Suid)
	p.uvarint(v.Uid)
	p.varint(v.SKey)
	p.varint(v.EKey)
	p.uvarint(v.Version)
	return p.size()
}

// GetDelData decodes a DelData.
func GetDelData(buf []byte, v *DelData) (int, error) {
	g := newGetter(buf)
	v.Suid = g.uvarint()
	v.Uid = g.uvarint()
	v.SKey = g.varint()
	v.EKey = g.varint()
	v.Version = g.uvarint()
	return g.result()
}

// PutDelIdx encodes a DelIdx.
func PutDelIdx(buf []byte, v DelIdx) int {
	p := newPutter(buf)
	p.uvarint(v.Suid)
	p.uvarint(v.Uid)
	p.varint(v.Offset)
	p.varint(v.Size)
	return p.size()
}

// GetDelIdx decodes a DelIdx.
func GetDelIdx(buf []byte, v *DelIdx) (int, error) {
	g := newGetter(buf)
	v.Suid = g.uvarint()
	v.Uid = g.uvarint()
	v.Offset = g.varint()
	v.Size = g.varint()
	return g.result()
}

// PutSmaAgg encodes one column's pre-aggregated statistics.
func PutSmaAgg(buf []byte, v SmaAgg) int {
	p := newPutter(buf)
	p.i16(v.Cid)
	p.i64(v.Count)
	p.f64(v.Sum)
	p.f64(v.Min)
	p.f64(v.Max)
	return p.size()
}

// GetSmaAgg decodes one column's pre-aggregated statistics.
func GetSmaAgg(buf []byte, v *SmaAgg) (int, error) {
	g := newGetter(buf)
	v.Cid = g.i16()
	v.Count = g.i64()
	v.Sum = g.f64()
	v.Min = g.f64()
	v.Max = g.f64()
	return g.result()
}

// subslice returns buf[off:] unless buf is nil, in which case it stays
// nil — PutDataBlk/PutMapData use it so size-only calls (buf == nil) never
// index into a nil slice.
func subslice(buf []byte, off int) []byte {
	if buf == nil {
		return nil
	}
	return buf[off:]
}
