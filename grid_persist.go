package grids

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const gridMetaVersion = 1

// gridMeta is the persisted description of a grid, stored next to its
// chunk records in the swap store.
type gridMeta struct {
	Version    int              `msgpack:"v"`
	ValueType  string           `msgpack:"type"`
	NRows      int64            `msgpack:"nrows"`
	NCols      int64            `msgpack:"ncols"`
	ChunkNRows int32            `msgpack:"cnrows"`
	ChunkNCols int32            `msgpack:"cncols"`
	NoData     float64          `msgpack:"nodata"`
	Kind       Kind             `msgpack:"kind"`
	Dir        string           `msgpack:"dir,omitempty"`
	TileSize   int              `msgpack:"tile,omitempty"`
	Stats      StatsMode        `msgpack:"stats"`
	Dims       dimensionsRecord `msgpack:"dims"`
	Chunks     []chunkMeta      `msgpack:"chunks"`
}

type chunkMeta struct {
	Row  int32 `msgpack:"r"`
	Col  int32 `msgpack:"c"`
	Kind Kind  `msgpack:"k"`
}

func valueTypeName[T Number]() string {
	if isFloat[T]() {
		return "float64"
	}
	return "int32"
}

// Persist saves the grid so that Open can bring it back, possibly in
// another process using the same swap file. Chunks keeping their own files
// are flushed in place; the others are written to the swap store. Once
// persisted, the grid is persisted again when closed.
func (g *Grid[T]) Persist() error {
	if g.closed {
		return ErrClosed
	}
	var errs []error
	for _, id := range g.ids {
		if err := g.chunks[id].save(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	meta := gridMeta{
		Version:    gridMetaVersion,
		ValueType:  valueTypeName[T](),
		NRows:      g.nrows,
		NCols:      g.ncols,
		ChunkNRows: g.chunkNRows,
		ChunkNCols: g.chunkNCols,
		NoData:     float64(g.noData),
		Kind:       g.kind,
		Dir:        g.dir,
		TileSize:   g.tileSize,
		Dims:       g.dims.record(),
		Chunks:     make([]chunkMeta, 0, len(g.ids)),
	}
	if _, ok := g.stats.(*IncrementalStats[T]); ok {
		meta.Stats = StatsIncremental
	}
	for _, id := range g.ids {
		meta.Chunks = append(meta.Chunks, chunkMeta{id.Row, id.Col, g.chunks[id].Kind()})
	}
	data, err := msgpackEncode(&meta)
	if err != nil {
		return err
	}
	if err := g.mgr.swap.PutMeta(g.name, data); err != nil {
		return fmt.Errorf("grid %s: persist: %w", g.name, err)
	}
	g.persisted = true
	g.logger.Info("grid persisted", zap.Int("chunks", len(g.ids)))
	return nil
}

// save makes the persisted form of the chunk current without releasing it.
func (c *Chunk[T]) save() error {
	switch s := c.store.(type) {
	case mirroredStore[T]:
		if !c.resident {
			return nil
		}
		if err := s.flush(); err != nil {
			return c.errf(err, "flush")
		}
	case memoryStore[T]:
		if c.pristine {
			if err := c.grid.mgr.swap.Delete(c.grid.name, c.id); err != nil {
				return c.errf(err, "save")
			}
		} else if c.resident && !c.swapUpToDate {
			if err := c.persist(s); err != nil {
				return err
			}
		}
	}
	c.swapUpToDate = true
	return nil
}

// Open brings back a grid saved with Persist. Chunks are loaded lazily on
// first access.
func Open[T Number](mgr *Manager, name string) (*Grid[T], error) {
	data, err := mgr.swap.Meta(name)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("grid %s: %w", name, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("grid %s: %w", name, err)
	}
	var meta gridMeta
	if err := msgpackDecode(data, &meta); err != nil {
		return nil, fmt.Errorf("grid %s: %w", name, err)
	}
	if meta.Version != gridMetaVersion {
		return nil, fmt.Errorf("grid %s: unsupported metadata version %d", name, meta.Version)
	}
	if want := valueTypeName[T](); meta.ValueType != want {
		return nil, fmt.Errorf("grid %s holds %s values, not %s", name, meta.ValueType, want)
	}
	dims, err := meta.Dims.dimensions()
	if err != nil {
		return nil, fmt.Errorf("grid %s: %w", name, err)
	}

	opt := GridOptions[T]{
		Name:       name,
		NRows:      meta.NRows,
		NCols:      meta.NCols,
		ChunkNRows: meta.ChunkNRows,
		ChunkNCols: meta.ChunkNCols,
		NoData:     T(meta.NoData),
		Kind:       meta.Kind,
		Dir:        meta.Dir,
		TileSize:   meta.TileSize,
		Dimensions: &dims,
		Stats:      meta.Stats,
	}
	g, err := newGrid(mgr, &opt)
	if err != nil {
		return nil, fmt.Errorf("grid %s: %w", name, err)
	}
	if len(meta.Chunks) != len(g.allChunkIDs()) {
		return nil, fmt.Errorf("grid %s: metadata lists %d chunks, wanted %d", name, len(meta.Chunks), len(g.allChunkIDs()))
	}
	if err := mgr.register(g); err != nil {
		return nil, err
	}
	for _, cm := range meta.Chunks {
		id := ChunkID{cm.Row, cm.Col}
		c, err := g.reviveChunk(id, cm.Kind)
		if err != nil {
			mgr.unregister(name)
			return nil, err
		}
		g.chunks[id] = c
		g.ids = append(g.ids, id)
	}
	g.persisted = true
	// values are unknown until the first scan
	g.stats.Invalidate()
	return g, nil
}

// reviveChunk builds a swapped-out chunk whose payload is whatever was
// persisted for it.
func (g *Grid[T]) reviveChunk(id ChunkID, kind Kind) (*Chunk[T], error) {
	sh, ok := g.chunkShape(id)
	if !ok {
		return nil, chunkErrf(g.name, id, kind, nil, "outside the chunk grid")
	}
	f, err := FactoryFor[T](kind, g.dir, g.tileSize)
	if err != nil {
		return nil, err
	}
	sf, ok := f.(storeFactory[T])
	if !ok {
		return nil, chunkErrf(g.name, id, kind, nil, "unsupported factory %T", f)
	}
	store, err := sf.newStore(sh, g.name, id)
	if err != nil {
		return nil, chunkErrf(g.name, id, kind, err, "open")
	}
	c := newChunk(g, id, sh, store)
	c.swapUpToDate = true
	return c, nil
}
