//go:build unix

package bytefile

import (
	"golang.org/x/sys/unix"
)

// Sendfile transfers length bytes from src starting at offset into dst's
// current position, via the kernel zero-copy path. It is used by
// component H (file-set copy) to produce a byte-exact copy of a committed
// file without re-checksumming or re-paging its contents.
func Sendfile(dst, src *File, offset int64, length int64) (int64, error) {
	srcFd := int(src.OSFile().Fd())
	dstFd := int(dst.OSFile().Fd())

	var total int64
	off := offset
	remaining := length

	for remaining > 0 {
		n, err := unix.Sendfile(dstFd, srcFd, &off, int(remaining))
		if n > 0 {
			total += int64(n)
			remaining -= int64(n)
		}
		if err != nil {
			return total, sysErr("sendfile", src.path, err)
		}
		if n == 0 {
			break
		}
	}

	return total, nil
}
