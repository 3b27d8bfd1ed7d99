// Package naming derives deterministic on-disk paths for file-set members
// and discovers the existing sst members of one (vgId, fid) in a vnode
// directory without a catalog, using the `v<vgId>f<fid>ver<commitId>.<ext>`
// naming scheme. It does not discover which file sets exist.
package naming

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// Ext identifies which of the four file-set members a path names.
type Ext string

const (
	ExtHead Ext = "head"
	ExtData Ext = "data"
	ExtSma  Ext = "sma"
	ExtSst  Ext = "sst"
)

// VnodeDir returns "<root>/vnode<vgId>/tsdb", the directory a vnode's file
// sets live under.
func VnodeDir(root string, vgID int) string {
	return filepath.Join(root, fmt.Sprintf("vnode%d", vgID), "tsdb")
}

// base returns "v<vgId>f<fid>ver<commitId>" — the shared stem for every
// file-set member's name.
func base(vgID int, fid, commitID int64) string {
	return fmt.Sprintf("v%df%dver%d", vgID, fid, commitID)
}

// HeadPath, DataPath, SmaPath derive the single-file members' paths.
func HeadPath(root string, vgID int, fid, commitID int64) string {
	return filepath.Join(VnodeDir(root, vgID), base(vgID, fid, commitID)+"."+string(ExtHead))
}

func DataPath(root string, vgID int, fid, commitID int64) string {
	return filepath.Join(VnodeDir(root, vgID), base(vgID, fid, commitID)+"."+string(ExtData))
}

func SmaPath(root string, vgID int, fid, commitID int64) string {
	return filepath.Join(VnodeDir(root, vgID), base(vgID, fid, commitID)+"."+string(ExtSma))
}

// DelPath derives the delete log's path. Unlike the file-set members, the
// delete log is per-vnode, not per-(fid, commitID): it is a single
// append-only log, not part of any one time-aligned file set.
func DelPath(root string, vgID int) string {
	return filepath.Join(VnodeDir(root, vgID), fmt.Sprintf("v%d.del", vgID))
}

// SstPath derives the path for sst[idx]. idx 0 keeps the plain ".sst"
// extension; later members (preserved from a prior commit's sst list,
// never rewritten by this layer) get a numeric suffix so each has a
// distinct, stable name.
func SstPath(root string, vgID int, fid, commitID int64, idx int) string {
	name := base(vgID, fid, commitID) + "." + string(ExtSst)
	if idx > 0 {
		name = fmt.Sprintf("%s.%d", name, idx)
	}
	return filepath.Join(VnodeDir(root, vgID), name)
}

var sstNamePattern = regexp.MustCompile(`^v(\d+)f(\d+)ver(\d+)\.sst(?:\.(\d+))?$`)

// SstMember is one discovered sst file within a vnode's tsdb directory.
type SstMember struct {
	Path     string
	VgID     int
	Fid      int64
	CommitID int64
	Index    int
}

// DiscoverSstMembers scans dir for sst files belonging to (vgID, fid),
// sorted by Index, using a compiled filename regex and a numeric-suffix
// sort (segmentFileNamePattern, SegmentEntries, validateSegmentEntries).
// A gap in the index sequence is reported as an error, mirroring
// validateSegmentEntries's gaplessness check.
func DiscoverSstMembers(dir string, vgID int, fid int64) ([]SstMember, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var members []SstMember
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		matches := sstNamePattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}

		gotVg, err := strconv.Atoi(matches[1])
		if err != nil || gotVg != vgID {
			continue
		}
		gotFid, err := strconv.ParseInt(matches[2], 10, 64)
		if err != nil || gotFid != fid {
			continue
		}
		commitID, err := strconv.ParseInt(matches[3], 10, 64)
		if err != nil {
			continue
		}

		idx := 0
		if matches[4] != "" {
			idx, err = strconv.Atoi(matches[4])
			if err != nil {
				continue
			}
		}

		members = append(members, SstMember{
			Path:     filepath.Join(dir, entry.Name()),
			VgID:     gotVg,
			Fid:      gotFid,
			CommitID: commitID,
			Index:    idx,
		})
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Index < members[j].Index })

	for i, m := range members {
		if m.Index != i {
			return nil, fmt.Errorf("naming: sst member sequence has a gap at index %d (found %d)", i, m.Index)
		}
	}

	return members, nil
}
