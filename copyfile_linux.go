package grids

import (
	"errors"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// copyFile copies size bytes from src to dst, both positioned at offset 0.
// It uses copy_file_range so the data stays in the kernel, and falls back
// to a plain copy when the file systems don't support it.
func copyFile(dst, src *os.File, size int64) (int64, error) {
	var done int64
	for done < size {
		n, err := unix.CopyFileRange(int(src.Fd()), nil, int(dst.Fd()), nil, int(size-done), 0)
		if err != nil {
			if done == 0 && (errors.Is(err, unix.EXDEV) || errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EINVAL) || errors.Is(err, unix.EOPNOTSUPP)) {
				return io.Copy(dst, io.LimitReader(src, size))
			}
			return done, err
		}
		if n == 0 {
			break
		}
		done += int64(n)
	}
	return done, nil
}
