package fileset

import (
	"fmt"
	"os"

	"github.com/flashtsdb/tsdbfile/bytefile"
	"github.com/flashtsdb/tsdbfile/naming"
)

// Copy produces a byte-exact copy of every member of src at (srcRoot,
// srcVgID, fid) into (dstRoot, dstVgID, fid), using the kernel zero-copy
// path for each file (component H). No page re-checksumming: the full
// on-disk span (footer block, every page including trailers) travels
// verbatim, so the destination's pages verify exactly as the source's
// did. Every sst[i] is copied, not just sst[0].
func Copy(srcRoot string, srcVgID int, fid int64, src *FileSet, dstRoot string, dstVgID int) error {
	if err := os.MkdirAll(naming.VnodeDir(dstRoot, dstVgID), 0o755); err != nil {
		return fmt.Errorf("fileset: create destination vnode dir: %w", err)
	}

	if err := copyMember(naming.HeadPath(srcRoot, srcVgID, fid, src.Head.CommitID), naming.HeadPath(dstRoot, dstVgID, fid, src.Head.CommitID)); err != nil {
		return fmt.Errorf("fileset: copy head: %w", err)
	}
	if err := copyMember(naming.DataPath(srcRoot, srcVgID, fid, src.Data.CommitID), naming.DataPath(dstRoot, dstVgID, fid, src.Data.CommitID)); err != nil {
		return fmt.Errorf("fileset: copy data: %w", err)
	}
	if err := copyMember(naming.SmaPath(srcRoot, srcVgID, fid, src.Sma.CommitID), naming.SmaPath(dstRoot, dstVgID, fid, src.Sma.CommitID)); err != nil {
		return fmt.Errorf("fileset: copy sma: %w", err)
	}
	for i, sd := range src.Sst {
		srcPath := naming.SstPath(srcRoot, srcVgID, fid, sd.CommitID, i)
		dstPath := naming.SstPath(dstRoot, dstVgID, fid, sd.CommitID, i)
		if err := copyMember(srcPath, dstPath); err != nil {
			return fmt.Errorf("fileset: copy sst[%d]: %w", i, err)
		}
	}
	return nil
}

// copyMember transfers srcPath's full on-disk length, starting at offset
// 0, into a fresh dstPath via bytefile.Sendfile.
func copyMember(srcPath, dstPath string) error {
	src, err := bytefile.Open(srcPath, bytefile.FlagRead)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := bytefile.Open(dstPath, bytefile.FlagRead|bytefile.FlagWrite|bytefile.FlagCreate|bytefile.FlagTrunc)
	if err != nil {
		return err
	}
	defer dst.Close()

	n, err := src.Size()
	if err != nil {
		return err
	}
	if _, err := bytefile.Sendfile(dst, src, 0, n); err != nil {
		return err
	}
	return nil
}
