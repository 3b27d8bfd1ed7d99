package fileset

import (
	"fmt"

	"github.com/flashtsdb/tsdbfile/codec"
	"github.com/flashtsdb/tsdbfile/pagedfile"
)

// VerifyFileSet opens fs read-only (which also loads the head's bloom
// filter region) and walks the head directory, every block's MapData,
// every sub-block's key region and sma aggregates, and every sst[i]
// directory with its own maps and sub-block key regions,
// checksum-verifying every page along the way. It does not read the
// block-column directories or the column payload regions.
// Without it, nothing in this module can surface the "stale header"
// scenario: a file set that never reached UpdateDFileSetHeader is
// ignored by higher layers precisely because its footer still reads as
// zero or its index regions fail to verify.
func VerifyFileSet(root string, vgID int, fid int64, fs *FileSet) error {
	r, err := OpenReader(root, vgID, fid, fs)
	if err != nil {
		return fmt.Errorf("fileset: verify: open: %w", err)
	}
	defer r.Close()

	blockIdx, err := r.ReadBlockIdx()
	if err != nil {
		return fmt.Errorf("fileset: verify: head block-index: %w", err)
	}
	for _, bi := range blockIdx {
		md, err := r.ReadBlock(bi)
		if err != nil {
			return fmt.Errorf("fileset: verify: block map (suid=%d,uid=%d): %w", bi.Suid, bi.Uid, err)
		}
		if err := verifyMapPayloads(r, r.data, md); err != nil {
			return fmt.Errorf("fileset: verify: data payload (suid=%d,uid=%d): %w", bi.Suid, bi.Uid, err)
		}
	}

	for i := range r.sst {
		sstIdx, err := r.ReadSstBlk(i)
		if err != nil {
			return fmt.Errorf("fileset: verify: sst[%d] index: %w", i, err)
		}
		for _, sb := range sstIdx {
			md, err := r.ReadSstBlockMap(i, sb)
			if err != nil {
				return fmt.Errorf("fileset: verify: sst[%d] block map (suid=%d,uid=%d): %w", i, sb.Suid, sb.Uid, err)
			}
			if err := verifyMapPayloads(r, r.sst[i], md); err != nil {
				return fmt.Errorf("fileset: verify: sst[%d] payload (suid=%d,uid=%d): %w", i, sb.Suid, sb.Uid, err)
			}
		}
	}

	return nil
}

func verifyMapPayloads(r *Reader, target *pagedfile.PagedFD, md codec.MapData) error {
	for _, e := range md.Entries {
		for _, sb := range e.Blk.SubBlocks {
			if _, err := r.readBlockDataFrom(target, sb, e.Suid, e.Uid, nil); err != nil {
				return err
			}
			if sb.HasSma {
				if _, err := r.ReadBlockSma(sb.Sma); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
