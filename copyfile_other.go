//go:build !linux

package grids

import (
	"io"
	"os"
)

func copyFile(dst, src *os.File, size int64) (int64, error) {
	return io.Copy(dst, io.LimitReader(src, size))
}
