// Package dellog implements the delete-log writer/reader (component G):
// an append-only, per-vnode log of per-table delete ranges, built
// directly on the raw byte file rather than PagedFD — each record region
// is its own self-checksummed unit instead of a page-checksummed stream.
package dellog

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	"github.com/flashtsdb/tsdbfile/bytefile"
	"github.com/flashtsdb/tsdbfile/checksum"
	"github.com/flashtsdb/tsdbfile/codec"
	"github.com/flashtsdb/tsdbfile/naming"
	"github.com/flashtsdb/tsdbfile/pagedfile"
)

// Writer appends del-data regions and, once, the trailing del-idx region
// to a per-vnode delete log. Layout: [FHDR_SIZE header]
// [(DLMT del-data[] checksum) x N][DLMT del-idx[] checksum].
type Writer struct {
	bf   *bytefile.File
	desc codec.FileDescriptor

	idxEntries []codec.DelIdx
}

// OpenWriter creates (or resumes) the delete log at naming.DelPath(root,
// vgID), reserving the FHDR_SIZE header block on first creation.
func OpenWriter(root string, vgID int) (*Writer, error) {
	path := naming.DelPath(root, vgID)

	if err := os.MkdirAll(naming.VnodeDir(root, vgID), 0o755); err != nil {
		return nil, err
	}

	bf, err := bytefile.Open(path, bytefile.FlagRead|bytefile.FlagWrite|bytefile.FlagCreate)
	if err != nil {
		return nil, err
	}

	size, err := bf.Size()
	if err != nil {
		bf.Close()
		return nil, err
	}

	w := &Writer{bf: bf}
	if size == 0 {
		if _, err := bf.Write(make([]byte, naming.FHDRSize)); err != nil {
			bf.Close()
			return nil, err
		}
		w.desc = codec.FileDescriptor{Size: int64(naming.FHDRSize)}
		return w, nil
	}

	footer, err := naming.ReadFooter(path)
	if err != nil {
		bf.Close()
		return nil, err
	}
	w.desc = footer.Descriptor
	if _, err := bf.Seek(w.desc.Size, bytefile.SeekStart); err != nil {
		bf.Close()
		return nil, err
	}
	return w, nil
}

// WriteDelData appends one table's delete ranges as a single
// self-checksummed region: 4-byte DLMT, each entry, then a whole-region
// CRC32 trailer. Records delIdx.offset/size for the caller to accumulate
// into the index WriteDelIdx writes at the end.
func (w *Writer) WriteDelData(suid, uid uint64, entries []codec.DelData) (codec.DelIdx, error) {
	size := 4
	for _, e := range entries {
		size += codec.PutDelData(nil, e)
	}
	size += checksum.Size

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf, codec.TSDBFileDlmt)
	off := 4
	for _, e := range entries {
		off += codec.PutDelData(buf[off:], e)
	}
	checksum.Append(buf, size)

	offset := w.desc.Size
	if _, err := w.bf.Write(buf); err != nil {
		return codec.DelIdx{}, err
	}
	w.desc.Size += int64(size)

	idx := codec.DelIdx{Suid: suid, Uid: uid, Offset: offset, Size: int64(size)}
	w.idxEntries = append(w.idxEntries, idx)
	return idx, nil
}

// WriteDelIdx writes the global index region — every DelIdx accumulated
// so far by WriteDelData, or the caller-supplied list if non-nil — and
// records the log's offset/size for the header rewrite. Passing nil uses
// the entries already recorded by WriteDelData calls on this writer.
func (w *Writer) WriteDelIdx(entries []codec.DelIdx) error {
	if entries == nil {
		entries = w.idxEntries
	}

	size := 4
	for _, e := range entries {
		size += codec.PutDelIdx(nil, e)
	}
	size += checksum.Size

	buf := make([]byte, size)
	binary.LittleEndian.PutUint32(buf, codec.TSDBFileDlmt)
	off := 4
	for _, e := range entries {
		off += codec.PutDelIdx(buf[off:], e)
	}
	checksum.Append(buf, size)

	offsetBefore := w.desc.Size
	if _, err := w.bf.Write(buf); err != nil {
		return err
	}
	w.desc.Offset = offsetBefore
	w.desc.Size += int64(size)
	return nil
}

// UpdateDelFileHdr rewrites the fixed-size header at offset 0 with the
// current descriptor — the delete log's commit point.
func (w *Writer) UpdateDelFileHdr() error {
	buf := naming.EncodeFooter(codec.FileFooter{Descriptor: w.desc})
	_, err := w.bf.WriteAt(buf, 0)
	return err
}

// Close releases the underlying handle, fsyncing first if sync is true.
func (w *Writer) Close(sync bool) error {
	if sync {
		if err := w.bf.Fsync(); err != nil {
			w.bf.Close()
			return err
		}
	}
	return w.bf.Close()
}

// Reader reads a committed delete log: seek + read + whole-region
// checksum verify + decode.
type Reader struct {
	bf   *bytefile.File
	desc codec.FileDescriptor
}

// OpenReader opens the delete log at naming.DelPath(root, vgID) read-only
// and loads its header.
func OpenReader(root string, vgID int) (*Reader, error) {
	path := naming.DelPath(root, vgID)
	footer, err := naming.ReadFooter(path)
	if err != nil {
		return nil, err
	}
	bf, err := bytefile.Open(path, bytefile.FlagRead)
	if err != nil {
		return nil, err
	}
	return &Reader{bf: bf, desc: footer.Descriptor}, nil
}

// Close releases the underlying handle.
func (r *Reader) Close() error { return r.bf.Close() }

// ReadDelIdx reads and decodes the trailing index region located by the
// reader's loaded descriptor: the span [Offset, Size) at the end of the
// log.
func (r *Reader) ReadDelIdx() ([]codec.DelIdx, error) {
	content, err := r.readRegion(r.desc.Offset, r.desc.Size-r.desc.Offset)
	if err != nil {
		return nil, err
	}
	return decodeList(content, codec.GetDelIdx)
}

// ReadDelData reads and decodes one del-data region at the given offset
// and size (as recorded by a DelIdx entry).
func (r *Reader) ReadDelData(offset, size int64) ([]codec.DelData, error) {
	content, err := r.readRegion(offset, size)
	if err != nil {
		return nil, err
	}
	return decodeList(content, codec.GetDelData)
}

func (r *Reader) readRegion(offset, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := r.bf.ReadAt(buf, offset); err != nil {
		return nil, err
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: region shorter than delimiter", pagedfile.ErrFileCorrupted)
	}
	delim := binary.LittleEndian.Uint32(buf)
	if delim != codec.TSDBFileDlmt {
		return nil, fmt.Errorf("%w: region delimiter mismatch: got %#x", pagedfile.ErrFileCorrupted, delim)
	}
	if !checksum.Verify(buf, len(buf)) {
		return nil, fmt.Errorf("%w: region checksum mismatch", pagedfile.ErrFileCorrupted)
	}
	return buf[4 : len(buf)-checksum.Size], nil
}

func decodeList[T any](content []byte, get func([]byte, *T) (int, error)) ([]T, error) {
	var out []T
	off := 0
	for off < len(content) {
		var v T
		n, err := get(content[off:], &v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", pagedfile.ErrFileCorrupted, err)
		}
		out = append(out, v)
		off += n
	}
	return out, nil
}

// Coalesce merges overlapping or adjacent [SKey, EKey] delete ranges that
// share (Suid, Uid, Version), picking up where the delete log's per-table
// append leaves off (the original delete log leaves overlap-merging to
// the query layer, which is out of scope here; this is a pure,
// allocation-light follow-on that does not require compaction
// machinery). Input order is not significant;
// output is sorted by SKey.
func Coalesce(entries []codec.DelData) []codec.DelData {
	if len(entries) == 0 {
		return nil
	}

	type groupKey struct {
		suid, uid, version uint64
	}
	groups := make(map[groupKey][]codec.DelData)
	var order []groupKey
	for _, e := range entries {
		k := groupKey{e.Suid, e.Uid, e.Version}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], e)
	}

	var out []codec.DelData
	for _, k := range order {
		ranges := groups[k]
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].SKey < ranges[j].SKey })

		merged := ranges[:1]
		for _, r := range ranges[1:] {
			last := &merged[len(merged)-1]
			if r.SKey <= last.EKey+1 {
				if r.EKey > last.EKey {
					last.EKey = r.EKey
				}
				continue
			}
			merged = append(merged, r)
		}
		out = append(out, merged...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SKey < out[j].SKey })
	return out
}
