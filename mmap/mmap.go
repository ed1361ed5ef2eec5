package mmap

import (
	"fmt"
	"os"
)

type Options uint

const (
	// Writable opens the file for writing (otherwise, it's opened read-only).
	Writable Options = 1 << 0

	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << 1

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess Options = 1 << 2

	// Prefault is a hint requesting the entire file to be loaded in memory
	// for fastest access. Maps to MAP_POPULATE on Linux.
	Prefault Options = 1 << 3
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mmap maps size bytes of f starting at offset 0.
func Mmap(f *os.File, offset, size int, opt Options) ([]byte, error) {
	if offset != 0 {
		panic("non-zero offset not yet supported")
	}
	return mmap(f, size, opt)
}

// Munmap unmaps the given slice from memory. The slice must have been returned
// by Mmap.
func Munmap(b []byte) error {
	return munmap(b)
}

// Region is a file together with a mapping of its whole contents.
type Region struct {
	f    *os.File
	data []byte
	opt  Options
}

// Open maps the file at path. A writable region is created if missing and
// grown (never shrunk) to size; a read-only region maps the file as is and
// size is only checked as a minimum.
func Open(path string, size int64, opt Options) (*Region, error) {
	if size <= 0 || size > MaxSize {
		return nil, fmt.Errorf("mmap %s: unsupported size %d", path, size)
	}
	flag := os.O_RDONLY
	if opt.Has(Writable) {
		flag = os.O_RDWR | os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0666)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() < size {
		if !opt.Has(Writable) {
			f.Close()
			return nil, fmt.Errorf("mmap %s: file is %d bytes, wanted at least %d", path, fi.Size(), size)
		}
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		size = fi.Size()
	}
	data, err := Mmap(f, 0, int(size), opt)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Region{f: f, data: data, opt: opt}, nil
}

// Bytes returns the mapped contents. Writes through it reach the file only
// for writable regions.
func (r *Region) Bytes() []byte { return r.data }

func (r *Region) Len() int { return len(r.data) }

func (r *Region) Name() string { return r.f.Name() }

func (r *Region) Writable() bool { return r.opt.Has(Writable) }

// Sync flushes modified pages to disk. It is a no-op for read-only regions.
func (r *Region) Sync() error {
	if r.data == nil || !r.opt.Has(Writable) {
		return nil
	}
	if err := msync(r.data); err != nil {
		return err
	}
	return Fdatasync(r.f, r.data)
}

// Close unmaps the region and closes the file without syncing. Calling it
// again is a no-op.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := Munmap(r.data)
	r.data = nil
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
