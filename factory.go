package grids

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// Factory builds chunks of one representation.
type Factory[T Number] interface {
	Kind() Kind

	// Blank returns a resident chunk that belongs to no grid, with every
	// cell set to noData.
	Blank(nrows, ncols int32, noData T) (*Chunk[T], error)

	// Create returns a chunk of g sized for id. The chunk starts out
	// swapped out and reads as no-data everywhere; its payload is allocated
	// on first access.
	Create(g *Grid[T], id ChunkID) (*Chunk[T], error)

	// CreateFrom returns a resident chunk of g sized for id, holding a copy
	// of the values of src.
	CreateFrom(g *Grid[T], id ChunkID, src *Chunk[T]) (*Chunk[T], error)
}

type storeFactory[T Number] interface {
	Factory[T]
	newStore(sh shape[T], dir string, id ChunkID) (cellStore[T], error)
}

// FactoryFor returns the factory for the given representation. dir is where
// file-backed and tiled chunks keep their files; tileSize applies to tiled
// chunks only.
func FactoryFor[T Number](kind Kind, dir string, tileSize int) (Factory[T], error) {
	switch kind {
	case KindDense:
		return DenseFactory[T]{}, nil
	case KindPacked:
		return PackedFactory[T]{}, nil
	case KindSparse:
		return SparseFactory[T]{}, nil
	case KindFile:
		if dir == "" {
			return nil, fmt.Errorf("%w: file chunks need a directory", ErrInvalidOptions)
		}
		return FileFactory[T]{Dir: dir}, nil
	case KindTiled:
		if dir == "" {
			return nil, fmt.Errorf("%w: tiled chunks need a directory", ErrInvalidOptions)
		}
		return TiledFactory[T]{Dir: dir, TileSize: tileSize}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported chunk kind %v", ErrInvalidOptions, kind)
	}
}

type DenseFactory[T Number] struct{}

func (DenseFactory[T]) Kind() Kind { return KindDense }

func (DenseFactory[T]) newStore(sh shape[T], _ string, _ ChunkID) (cellStore[T], error) {
	return newDenseStore(sh), nil
}

func (f DenseFactory[T]) Blank(nrows, ncols int32, noData T) (*Chunk[T], error) {
	return blankChunk[T](f, nrows, ncols, noData)
}

func (f DenseFactory[T]) Create(g *Grid[T], id ChunkID) (*Chunk[T], error) {
	return createChunk[T](f, g, id)
}

func (f DenseFactory[T]) CreateFrom(g *Grid[T], id ChunkID, src *Chunk[T]) (*Chunk[T], error) {
	return createChunkFrom[T](f, g, id, src)
}

// PackedFactory builds chunks of at most MaxPackedCells cells. Grids using
// it have their chunk size capped at 8x8.
type PackedFactory[T Number] struct{}

func (PackedFactory[T]) Kind() Kind { return KindPacked }

func (PackedFactory[T]) newStore(sh shape[T], _ string, _ ChunkID) (cellStore[T], error) {
	return newPackedStore(sh)
}

func (f PackedFactory[T]) Blank(nrows, ncols int32, noData T) (*Chunk[T], error) {
	return blankChunk[T](f, nrows, ncols, noData)
}

func (f PackedFactory[T]) Create(g *Grid[T], id ChunkID) (*Chunk[T], error) {
	return createChunk[T](f, g, id)
}

func (f PackedFactory[T]) CreateFrom(g *Grid[T], id ChunkID, src *Chunk[T]) (*Chunk[T], error) {
	return createChunkFrom[T](f, g, id, src)
}

// SparseFactory is the default choice when nothing is known about the
// value distribution.
type SparseFactory[T Number] struct{}

func (SparseFactory[T]) Kind() Kind { return KindSparse }

func (SparseFactory[T]) newStore(sh shape[T], _ string, _ ChunkID) (cellStore[T], error) {
	return newSparseStore(sh), nil
}

func (f SparseFactory[T]) Blank(nrows, ncols int32, noData T) (*Chunk[T], error) {
	return blankChunk[T](f, nrows, ncols, noData)
}

func (f SparseFactory[T]) Create(g *Grid[T], id ChunkID) (*Chunk[T], error) {
	return createChunk[T](f, g, id)
}

func (f SparseFactory[T]) CreateFrom(g *Grid[T], id ChunkID, src *Chunk[T]) (*Chunk[T], error) {
	return createChunkFrom[T](f, g, id, src)
}

// FileFactory builds chunks that keep their cells in Dir/<grid>/<row>_<col>.bin.
type FileFactory[T Number] struct {
	Dir string
}

func (FileFactory[T]) Kind() Kind { return KindFile }

func (f FileFactory[T]) newStore(sh shape[T], dir string, id ChunkID) (cellStore[T], error) {
	if dir == "" {
		p, err := tempChunkPath(f.Dir, "*.bin")
		if err != nil {
			return nil, err
		}
		return newFileStore(sh, p), nil
	}
	return newFileStore(sh, filepath.Join(f.Dir, dir, chunkFileName(id, ".bin"))), nil
}

func (f FileFactory[T]) Blank(nrows, ncols int32, noData T) (*Chunk[T], error) {
	return blankChunk[T](f, nrows, ncols, noData)
}

func (f FileFactory[T]) Create(g *Grid[T], id ChunkID) (*Chunk[T], error) {
	return createChunk[T](f, g, id)
}

func (f FileFactory[T]) CreateFrom(g *Grid[T], id ChunkID, src *Chunk[T]) (*Chunk[T], error) {
	return createChunkFrom[T](f, g, id, src)
}

// TiledFactory builds chunks backed by tiled raster files in
// Dir/<grid>/<row>_<col>.tiles. TileSize defaults to 256.
type TiledFactory[T Number] struct {
	Dir      string
	TileSize int
}

const defaultTileSize = 256

func (TiledFactory[T]) Kind() Kind { return KindTiled }

func (f TiledFactory[T]) newStore(sh shape[T], dir string, id ChunkID) (cellStore[T], error) {
	ts := f.TileSize
	if ts <= 0 {
		ts = defaultTileSize
	}
	if dir == "" {
		p, err := tempChunkPath(f.Dir, "*.tiles")
		if err != nil {
			return nil, err
		}
		return newTiledStore(sh, p, ts), nil
	}
	return newTiledStore(sh, filepath.Join(f.Dir, dir, chunkFileName(id, ".tiles")), ts), nil
}

func (f TiledFactory[T]) Blank(nrows, ncols int32, noData T) (*Chunk[T], error) {
	return blankChunk[T](f, nrows, ncols, noData)
}

func (f TiledFactory[T]) Create(g *Grid[T], id ChunkID) (*Chunk[T], error) {
	return createChunk[T](f, g, id)
}

func (f TiledFactory[T]) CreateFrom(g *Grid[T], id ChunkID, src *Chunk[T]) (*Chunk[T], error) {
	return createChunkFrom[T](f, g, id, src)
}

func chunkFileName(id ChunkID, ext string) string {
	return fmt.Sprintf("%d_%d%s", id.Row, id.Col, ext)
}

func tempChunkPath(dir, pattern string) (string, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(dir, "chunk-"+pattern)
	if err != nil {
		return "", err
	}
	name := f.Name()
	return name, f.Close()
}

func blankChunk[T Number](f storeFactory[T], nrows, ncols int32, noData T) (*Chunk[T], error) {
	if nrows <= 0 || ncols <= 0 {
		return nil, fmt.Errorf("%w: chunk size %dx%d", ErrInvalidOptions, nrows, ncols)
	}
	sh := shape[T]{nrows: nrows, ncols: ncols, noData: noData, logger: zap.NewNop()}
	store, err := f.newStore(sh, "", ChunkID{})
	if err != nil {
		return nil, err
	}
	c := newChunk[T](nil, ChunkID{}, sh, store)
	if err := c.InitData(); err != nil {
		return nil, err
	}
	return c, nil
}

func createChunk[T Number](f storeFactory[T], g *Grid[T], id ChunkID) (*Chunk[T], error) {
	sh, ok := g.chunkShape(id)
	if !ok {
		return nil, chunkErrf(g.name, id, f.Kind(), nil, "outside the chunk grid")
	}
	store, err := f.newStore(sh, g.name, id)
	if err != nil {
		return nil, chunkErrf(g.name, id, f.Kind(), err, "create")
	}
	// a leftover mirror from an earlier grid of the same name must not leak in
	if ms, ok := store.(mirroredStore[T]); ok {
		if err := ms.destroy(); err != nil {
			return nil, chunkErrf(g.name, id, f.Kind(), err, "remove stale %s", ms.path())
		}
	}
	c := newChunk(g, id, sh, store)
	c.pristine = true
	c.swapUpToDate = true
	return c, nil
}

func createChunkFrom[T Number](f storeFactory[T], g *Grid[T], id ChunkID, src *Chunk[T]) (*Chunk[T], error) {
	c, err := createChunk(f, g, id)
	if err != nil {
		return nil, err
	}
	if err := Convert(c, src); err != nil {
		return nil, err
	}
	return c, nil
}

// Convert overwrites every cell of dst with the value src holds at the same
// position. Cells outside src, and cells holding the no-data value of src,
// become the no-data value of dst. Both chunks are protected from eviction
// while the copy runs.
func Convert[T Number](dst, src *Chunk[T]) error {
	ex := Union(dst.except(), src.except())
	return dst.manager().Do(ex, func() error {
		return convert(dst, src)
	})
}

func convert[T Number](dst, src *Chunk[T]) error {
	if err := dst.ClearData(); err != nil {
		return err
	}
	if err := dst.charge(dst.store.allocSize()); err != nil {
		return err
	}
	dst.setResident(true)
	dst.pristine = false
	dst.swapUpToDate = false

	if df, ok := dst.store.(*fileStore[T]); ok {
		if sf, ok := src.store.(*fileStore[T]); ok && sameFileLayout(dst, src) {
			if err := src.ensureResident(); err != nil {
				return err
			}
			if err := df.copyFrom(sf); err != nil {
				return dst.errf(err, "copy from %s", sf.fpath)
			}
			dst.reconcile()
			return nil
		}
	}

	if err := dst.store.prepare(); err != nil {
		return dst.errf(err, "prepare")
	}
	srcNoData, dstNoData := src.shape.noData, dst.shape.noData
	for r := int32(0); r < dst.shape.nrows; r++ {
		for c := int32(0); c < dst.shape.ncols; c++ {
			v, err := src.cell(r, c)
			if err != nil {
				return err
			}
			if sameValue(v, srcNoData) {
				v = dstNoData
			}
			if err := dst.initCell(r, c, v); err != nil {
				dst.shape.logger.Warn("chunk init failed, cell stays no-data", zap.Stringer("chunk", dst.id), zap.Int32("row", r), zap.Int32("col", c), zap.Error(err))
			}
		}
		dst.reconcile()
	}
	if err := dst.store.finishInit(); err != nil {
		return dst.errf(err, "finish init")
	}
	dst.reconcile()
	return nil
}

func sameFileLayout[T Number](a, b *Chunk[T]) bool {
	return a.shape.nrows == b.shape.nrows && a.shape.ncols == b.shape.ncols && sameValue(a.shape.noData, b.shape.noData)
}
