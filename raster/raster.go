// Package raster implements a tiled, memory-mapped raster image file.
//
// File layout (little-endian):
//
//	header  = magic:8 width:32 height:32 tileWidth:32 tileHeight:32 bands:16 type:8 reserved:...  (64 bytes)
//	tile*   = sample{tileWidth*tileHeight*bands}
//
// Tiles are stored row by row. Edge tiles occupy a full tile on disk; the
// samples past the image bounds are never read. Within a tile, samples are
// pixel-interleaved.
package raster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/andreyvit/grids/mmap"
)

// SampleType is the numeric type of the samples.
type SampleType uint8

const (
	Float64 SampleType = 1
	Int32   SampleType = 2
)

func (st SampleType) Size() int {
	switch st {
	case Float64:
		return 8
	case Int32:
		return 4
	default:
		return 0
	}
}

func (st SampleType) String() string {
	switch st {
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("sampletype(%d)", uint8(st))
	}
}

const (
	headerSize = 64
	magic      = "GRIDTIL1"
)

var ErrFormat = errors.New("raster: invalid file")

type Options struct {
	Width, Height         int
	TileWidth, TileHeight int
	Bands                 int
	Type                  SampleType
}

func (o Options) validate() error {
	switch {
	case o.Width <= 0 || o.Height <= 0:
		return fmt.Errorf("raster: invalid size %dx%d", o.Width, o.Height)
	case o.TileWidth <= 0 || o.TileHeight <= 0:
		return fmt.Errorf("raster: invalid tile size %dx%d", o.TileWidth, o.TileHeight)
	case o.Bands <= 0 || o.Bands > math.MaxUint16:
		return fmt.Errorf("raster: invalid band count %d", o.Bands)
	case o.Type.Size() == 0:
		return fmt.Errorf("raster: invalid sample type %v", o.Type)
	}
	return nil
}

func (o Options) tilesAcross() int { return (o.Width + o.TileWidth - 1) / o.TileWidth }
func (o Options) tilesDown() int   { return (o.Height + o.TileHeight - 1) / o.TileHeight }

func (o Options) tileSamples() int { return o.TileWidth * o.TileHeight * o.Bands }

// FileSize returns the size of a raster file with these options.
func (o Options) FileSize() int64 {
	return headerSize + int64(o.tilesAcross()*o.tilesDown())*int64(o.tileSamples())*int64(o.Type.Size())
}

// Tiled is an open raster file. It is not safe for concurrent use.
type Tiled struct {
	opt    Options
	region *mmap.Region
	data   []byte
}

// Create makes a new raster file at path, replacing any existing one, with
// every sample set to fill.
func Create(path string, opt Options, fill float64) (*Tiled, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	if err := removeIfExists(path); err != nil {
		return nil, err
	}
	r, err := mmap.Open(path, opt.FileSize(), mmap.Writable|mmap.RandomAccess)
	if err != nil {
		return nil, err
	}
	t := &Tiled{opt: opt, region: r, data: r.Bytes()}
	t.writeHeader()
	if fill != 0 {
		t.Fill(fill)
	}
	return t, nil
}

// Open opens an existing raster file.
func Open(path string, writable bool) (*Tiled, error) {
	var mo mmap.Options
	if writable {
		mo = mmap.Writable | mmap.RandomAccess
	} else {
		mo = mmap.SequentialAccess
	}
	r, err := mmap.Open(path, headerSize, mo)
	if err != nil {
		return nil, err
	}
	opt, err := readHeader(r.Bytes())
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if int64(r.Len()) < opt.FileSize() {
		r.Close()
		return nil, fmt.Errorf("%s: %w: %d bytes, wanted %d", path, ErrFormat, r.Len(), opt.FileSize())
	}
	return &Tiled{opt: opt, region: r, data: r.Bytes()}, nil
}

func (t *Tiled) writeHeader() {
	h := t.data[:headerSize]
	copy(h, magic)
	binary.LittleEndian.PutUint32(h[8:], uint32(t.opt.Width))
	binary.LittleEndian.PutUint32(h[12:], uint32(t.opt.Height))
	binary.LittleEndian.PutUint32(h[16:], uint32(t.opt.TileWidth))
	binary.LittleEndian.PutUint32(h[20:], uint32(t.opt.TileHeight))
	binary.LittleEndian.PutUint16(h[24:], uint16(t.opt.Bands))
	h[26] = byte(t.opt.Type)
}

func readHeader(h []byte) (Options, error) {
	if len(h) < headerSize || string(h[:8]) != magic {
		return Options{}, ErrFormat
	}
	opt := Options{
		Width:      int(binary.LittleEndian.Uint32(h[8:])),
		Height:     int(binary.LittleEndian.Uint32(h[12:])),
		TileWidth:  int(binary.LittleEndian.Uint32(h[16:])),
		TileHeight: int(binary.LittleEndian.Uint32(h[20:])),
		Bands:      int(binary.LittleEndian.Uint16(h[24:])),
		Type:       SampleType(h[26]),
	}
	if err := opt.validate(); err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return opt, nil
}

func (t *Tiled) Options() Options { return t.opt }

func (t *Tiled) Bounds() image.Rectangle {
	return image.Rect(0, 0, t.opt.Width, t.opt.Height)
}

func (t *Tiled) Path() string { return t.region.Name() }

// NumTiles returns the number of tiles, edge tiles included.
func (t *Tiled) NumTiles() int { return t.opt.tilesAcross() * t.opt.tilesDown() }

// TileBounds returns the pixels covered by tile i, clipped to the image.
func (t *Tiled) TileBounds(i int) image.Rectangle {
	across := t.opt.tilesAcross()
	x0 := (i % across) * t.opt.TileWidth
	y0 := (i / across) * t.opt.TileHeight
	return image.Rect(x0, y0, x0+t.opt.TileWidth, y0+t.opt.TileHeight).Intersect(t.Bounds())
}

func (t *Tiled) offset(x, y, band int) int {
	o := t.opt
	tile := (y/o.TileHeight)*o.tilesAcross() + x/o.TileWidth
	within := ((y%o.TileHeight)*o.TileWidth+x%o.TileWidth)*o.Bands + band
	return headerSize + (tile*o.tileSamples()+within)*o.Type.Size()
}

func (t *Tiled) inBounds(x, y, band int) bool {
	return x >= 0 && y >= 0 && x < t.opt.Width && y < t.opt.Height && band >= 0 && band < t.opt.Bands
}

// Sample returns the sample at pixel (x, y). Out-of-bounds reads return NaN.
func (t *Tiled) Sample(x, y, band int) float64 {
	if t.data == nil || !t.inBounds(x, y, band) {
		return math.NaN()
	}
	return t.load(t.offset(x, y, band))
}

// SetSample stores v at pixel (x, y). Int32 rasters truncate v.
func (t *Tiled) SetSample(x, y, band int, v float64) error {
	if t.data == nil {
		return errors.New("raster: closed")
	}
	if !t.inBounds(x, y, band) {
		return fmt.Errorf("raster: sample (%d,%d,%d) out of bounds", x, y, band)
	}
	if !t.region.Writable() {
		return errors.New("raster: read-only")
	}
	t.store(t.offset(x, y, band), v)
	return nil
}

func (t *Tiled) load(off int) float64 {
	if t.opt.Type == Float64 {
		return math.Float64frombits(binary.LittleEndian.Uint64(t.data[off:]))
	}
	return float64(int32(binary.LittleEndian.Uint32(t.data[off:])))
}

func (t *Tiled) store(off int, v float64) {
	if t.opt.Type == Float64 {
		binary.LittleEndian.PutUint64(t.data[off:], math.Float64bits(v))
	} else {
		binary.LittleEndian.PutUint32(t.data[off:], uint32(int32(v)))
	}
}

// Fill sets every sample, including tile padding, to v.
func (t *Tiled) Fill(v float64) {
	size := t.opt.Type.Size()
	for off := headerSize; off+size <= len(t.data); off += size {
		t.store(off, v)
	}
}

// Sync flushes pending writes to disk.
func (t *Tiled) Sync() error {
	if t.data == nil {
		return nil
	}
	return t.region.Sync()
}

// Close releases the mapping without syncing.
func (t *Tiled) Close() error {
	t.data = nil
	return t.region.Close()
}
