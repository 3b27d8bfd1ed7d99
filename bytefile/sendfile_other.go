//go:build !unix

package bytefile

import "io"

// Sendfile falls back to a plain copy loop on platforms without a
// sendfile(2) syscall. Behavior (byte-exact transfer of length bytes
// starting at offset) is identical to the unix path; only the transfer
// mechanism differs.
func Sendfile(dst, src *File, offset int64, length int64) (int64, error) {
	if _, err := src.Seek(offset, SeekStart); err != nil {
		return 0, err
	}

	n, err := io.CopyN(dst.f, src.f, length)
	if err != nil && err != io.EOF {
		return n, sysErr("sendfile", src.path, err)
	}
	return n, nil
}
