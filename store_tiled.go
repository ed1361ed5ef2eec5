package grids

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/andreyvit/grids/raster"
)

// tiledStore keeps the chunk in a single-band tiled raster file, mapped
// into memory while the chunk is resident. Columns map to x, rows to y.
type tiledStore[T Number] struct {
	shape[T]
	fpath    string
	tileSize int
	img      *raster.Tiled
}

// tiledHandleSize approximates the heap cost of an open tiled raster; the
// mapped pages themselves belong to the page cache.
const tiledHandleSize = 1024

func newTiledStore[T Number](sh shape[T], path string, tileSize int) *tiledStore[T] {
	return &tiledStore[T]{shape: sh, fpath: path, tileSize: tileSize}
}

func (s *tiledStore[T]) kind() Kind   { return KindTiled }
func (s *tiledStore[T]) path() string { return s.fpath }

func (s *tiledStore[T]) options() raster.Options {
	opt := raster.Options{
		Width:      int(s.ncols),
		Height:     int(s.nrows),
		TileWidth:  min(s.tileSize, int(s.ncols)),
		TileHeight: min(s.tileSize, int(s.nrows)),
		Bands:      1,
		Type:       raster.Int32,
	}
	if isFloat[T]() {
		opt.Type = raster.Float64
	}
	return opt
}

func (s *tiledStore[T]) checkOpen() error {
	if s.img == nil {
		return fmt.Errorf("%s: %w", s.fpath, fs.ErrClosed)
	}
	return nil
}

func (s *tiledStore[T]) get(row, col int32) (T, error) {
	if err := s.checkOpen(); err != nil {
		return s.noData, err
	}
	return T(s.img.Sample(int(col), int(row), 0)), nil
}

func (s *tiledStore[T]) set(row, col int32, v T) (T, error) {
	if err := s.checkOpen(); err != nil {
		return s.noData, err
	}
	old := T(s.img.Sample(int(col), int(row), 0))
	if sameValue(old, v) {
		return old, nil
	}
	return old, s.img.SetSample(int(col), int(row), 0, float64(v))
}

func (s *tiledStore[T]) init(row, col int32, v T) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.img.SetSample(int(col), int(row), 0, float64(v))
}

func (s *tiledStore[T]) prepare() error {
	if err := s.release(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.fpath), 0777); err != nil {
		return err
	}
	img, err := raster.Create(s.fpath, s.options(), float64(s.noData))
	if err != nil {
		return err
	}
	s.img = img
	return nil
}

func (s *tiledStore[T]) finishInit() error { return nil }
func (s *tiledStore[T]) alloc() error      { return s.prepare() }

func (s *tiledStore[T]) flush() error {
	if s.img == nil {
		return nil
	}
	return s.img.Sync()
}

func (s *tiledStore[T]) reopen() error {
	if s.img != nil {
		return nil
	}
	img, err := raster.Open(s.fpath, true)
	if errors.Is(err, fs.ErrNotExist) {
		return s.alloc()
	} else if err != nil {
		return err
	}
	if b := img.Bounds(); b.Dx() != int(s.ncols) || b.Dy() != int(s.nrows) {
		img.Close()
		return fmt.Errorf("%s: raster is %dx%d, wanted %dx%d", s.fpath, b.Dy(), b.Dx(), s.nrows, s.ncols)
	}
	s.img = img
	return nil
}

func (s *tiledStore[T]) release() error {
	if s.img == nil {
		return nil
	}
	err := s.img.Close()
	s.img = nil
	return err
}

func (s *tiledStore[T]) destroy() error {
	err := s.release()
	if rerr := os.Remove(s.fpath); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}

func (s *tiledStore[T]) growth(T) int64   { return 0 }
func (s *tiledStore[T]) allocSize() int64 { return tiledHandleSize }

func (s *tiledStore[T]) memSize() int64 {
	if s.img == nil {
		return 0
	}
	return tiledHandleSize
}

// cursor walks the raster tile by tile through a read-only mapping of its
// own, so the order is row-major only within each tile.
func (s *tiledStore[T]) cursor() (Cursor[T], error) {
	img, err := raster.Open(s.fpath, false)
	if err != nil {
		return nil, err
	}
	return &tiledCursor[T]{img: img, scan: img.Scan(0)}, nil
}

func (s *tiledStore[T]) counts() map[T]int64 {
	vc := make(valueCounts[T])
	b := s.img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			vc.add(T(s.img.Sample(x, y, 0)), 1)
		}
	}
	return vc.result()
}

type tiledCursor[T Number] struct {
	img  *raster.Tiled
	scan *raster.Scanner
	v    T
}

func (c *tiledCursor[T]) Next() bool {
	if c.img == nil {
		return false
	}
	if !c.scan.Next() {
		c.Close()
		return false
	}
	c.v = T(c.scan.Value())
	return true
}

func (c *tiledCursor[T]) Value() T { return c.v }

func (c *tiledCursor[T]) Close() error {
	if c.img == nil {
		return nil
	}
	err := c.img.Close()
	c.img = nil
	return err
}
