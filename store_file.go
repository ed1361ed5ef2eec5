package grids

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andreyvit/grids/mmap"
	"go.uber.org/zap"
)

// fileStore keeps one fixed-width big-endian record per cell, row-major,
// in a file of its own. The file has no header; its length is
// nrows*ncols*recordWidth.
type fileStore[T Number] struct {
	shape[T]
	fpath string
	f     *os.File
	buf   []byte

	// set between prepare and finishInit
	w       *bufio.Writer
	written int
}

// fileHandleSize approximates the heap cost of an open chunk file.
const fileHandleSize = 512

func newFileStore[T Number](sh shape[T], path string) *fileStore[T] {
	return &fileStore[T]{shape: sh, fpath: path, buf: make([]byte, recordWidth[T]())}
}

func (s *fileStore[T]) kind() Kind      { return KindFile }
func (s *fileStore[T]) path() string    { return s.fpath }
func (s *fileStore[T]) width() int      { return len(s.buf) }
func (s *fileStore[T]) size() int64     { return int64(s.cells()) * int64(s.width()) }
func (s *fileStore[T]) off(i int) int64 { return int64(i) * int64(s.width()) }

func (s *fileStore[T]) readAt(i int) (T, error) {
	if s.f == nil {
		return s.noData, fmt.Errorf("%s: %w", s.fpath, fs.ErrClosed)
	}
	if err := s.flushWriter(); err != nil {
		return s.noData, err
	}
	if _, err := s.f.ReadAt(s.buf, s.off(i)); err != nil {
		return s.noData, err
	}
	return readRecord[T](s.buf), nil
}

func (s *fileStore[T]) writeAt(i int, v T) error {
	var rec [8]byte
	putRecord(rec[:], v)
	_, err := s.f.WriteAt(rec[:s.width()], s.off(i))
	return err
}

func (s *fileStore[T]) get(row, col int32) (T, error) {
	return s.readAt(s.index(row, col))
}

func (s *fileStore[T]) set(row, col int32, v T) (T, error) {
	i := s.index(row, col)
	old, err := s.readAt(i)
	if err != nil && !errors.Is(err, io.EOF) {
		return s.noData, err
	}
	if err == nil && sameValue(old, v) {
		return old, nil
	}
	return old, s.writeAt(i, v)
}

// init appends while writes arrive in row-major order and falls back to
// positioned writes otherwise. Skipped cells are padded with no-data.
func (s *fileStore[T]) init(row, col int32, v T) error {
	i := s.index(row, col)
	if s.w == nil || i < s.written {
		if err := s.flushWriter(); err != nil {
			return err
		}
		return s.writeAt(i, v)
	}
	for s.written < i {
		if err := s.appendRecord(s.noData); err != nil {
			return err
		}
	}
	return s.appendRecord(v)
}

func (s *fileStore[T]) appendRecord(v T) error {
	var rec [8]byte
	putRecord(rec[:], v)
	_, err := s.w.Write(rec[:s.width()])
	s.written++
	return err
}

func (s *fileStore[T]) flushWriter() error {
	if s.w == nil {
		return nil
	}
	return s.w.Flush()
}

func (s *fileStore[T]) create() error {
	if err := s.release(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.fpath), 0777); err != nil {
		return err
	}
	f, err := os.OpenFile(s.fpath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *fileStore[T]) prepare() error {
	if err := s.create(); err != nil {
		return err
	}
	s.w = bufio.NewWriter(s.f)
	s.written = 0
	return nil
}

func (s *fileStore[T]) finishInit() error {
	if s.w == nil {
		return nil
	}
	var err error
	for err == nil && s.written < s.cells() {
		err = s.appendRecord(s.noData)
	}
	if ferr := s.w.Flush(); err == nil {
		err = ferr
	}
	s.w = nil
	return err
}

func (s *fileStore[T]) alloc() error {
	if err := s.prepare(); err != nil {
		return err
	}
	return s.finishInit()
}

// copyFrom replaces the file with a copy of another file-backed chunk of
// the same shape.
func (s *fileStore[T]) copyFrom(src *fileStore[T]) error {
	if err := src.flushWriter(); err != nil {
		return err
	}
	in, err := os.Open(src.fpath)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := s.create(); err != nil {
		return err
	}
	n, err := copyFile(s.f, in, src.size())
	if err != nil {
		return err
	}
	if n != s.size() {
		return fmt.Errorf("copied %d bytes from %s, wanted %d", n, src.fpath, s.size())
	}
	return nil
}

func (s *fileStore[T]) flush() error {
	if s.f == nil {
		return nil
	}
	if err := s.flushWriter(); err != nil {
		return err
	}
	return mmap.Fdatasync(s.f, nil)
}

func (s *fileStore[T]) reopen() error {
	if s.f != nil {
		return nil
	}
	f, err := os.OpenFile(s.fpath, os.O_RDWR, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return s.alloc()
	} else if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *fileStore[T]) release() error {
	if s.f == nil {
		return nil
	}
	err := s.flushWriter()
	s.w = nil
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	s.f = nil
	return err
}

func (s *fileStore[T]) destroy() error {
	err := s.release()
	if rerr := os.Remove(s.fpath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}

func (s *fileStore[T]) growth(T) int64   { return 0 }
func (s *fileStore[T]) allocSize() int64 { return fileHandleSize }

func (s *fileStore[T]) memSize() int64 {
	if s.f == nil {
		return 0
	}
	if s.w != nil {
		return fileHandleSize + int64(s.w.Size())
	}
	return fileHandleSize
}

func (s *fileStore[T]) cursor() (Cursor[T], error) {
	if err := s.flushWriter(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.fpath)
	if err != nil {
		return nil, err
	}
	return &fileCursor[T]{
		f:      f,
		r:      bufio.NewReader(f),
		buf:    make([]byte, s.width()),
		left:   s.cells(),
		noData: s.noData,
		logger: s.logger,
	}, nil
}

func (s *fileStore[T]) counts() map[T]int64 {
	vc := make(valueCounts[T])
	cur, err := s.cursor()
	if err != nil {
		vc.add(s.noData, int64(s.cells()))
		return vc.result()
	}
	for v := range Values(cur) {
		vc.add(v, 1)
	}
	return vc.result()
}

// fileCursor reads the chunk file sequentially through its own handle. A
// short or unreadable file yields no-data for the missing cells, so the
// cursor always produces exactly nrows*ncols values.
type fileCursor[T Number] struct {
	f      *os.File
	r      *bufio.Reader
	buf    []byte
	left   int
	noData T
	v      T
	failed bool
	logger *zap.Logger
}

func (c *fileCursor[T]) Next() bool {
	if c.left <= 0 {
		c.Close()
		return false
	}
	c.left--
	if c.failed {
		c.v = c.noData
		return true
	}
	if _, err := io.ReadFull(c.r, c.buf); err != nil {
		c.failed = true
		c.v = c.noData
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			c.logger.Warn("chunk file read failed, padding with no-data", zap.String("file", c.f.Name()), zap.Error(err))
		}
		return true
	}
	c.v = readRecord[T](c.buf)
	return true
}

func (c *fileCursor[T]) Value() T { return c.v }

func (c *fileCursor[T]) Close() error {
	c.left = 0
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}
