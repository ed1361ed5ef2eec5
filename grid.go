package grids

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"go.uber.org/zap"
)

const defaultChunkSize = 256

// packedChunkSide is the chunk size packed grids are capped to.
const packedChunkSide = 8

type GridOptions[T Number] struct {
	// Name identifies the grid within its Manager and names its directory
	// and swap records. It can't contain path separators.
	Name string

	NRows, NCols int64

	// ChunkNRows and ChunkNCols are the nominal chunk size; chunks on the
	// bottom and right edges may be smaller. Default to 256.
	ChunkNRows, ChunkNCols int32

	NoData T

	// Kind selects the representation of new chunks. Defaults to KindDense.
	Kind Kind

	// Dir is where file-backed and tiled chunks keep their files.
	Dir      string
	TileSize int

	// Dimensions geo-references the grid. When nil, cells are 1x1 with the
	// origin at (0, 0).
	Dimensions *Dimensions

	Stats StatsMode

	// Logger defaults to the Manager's logger.
	Logger *zap.Logger
}

// normalize fills in defaults and checks the options. Notices describe
// adjustments the caller did not ask for.
func (o *GridOptions[T]) normalize() (notices []string, err error) {
	if err := validateGridName(o.Name); err != nil {
		return nil, err
	}
	if o.NRows <= 0 || o.NCols <= 0 {
		return nil, fmt.Errorf("%w: grid size %dx%d", ErrInvalidOptions, o.NRows, o.NCols)
	}
	if o.ChunkNRows < 0 || o.ChunkNCols < 0 {
		return nil, fmt.Errorf("%w: chunk size %dx%d", ErrInvalidOptions, o.ChunkNRows, o.ChunkNCols)
	}
	if o.ChunkNRows == 0 {
		o.ChunkNRows = defaultChunkSize
	}
	if o.ChunkNCols == 0 {
		o.ChunkNCols = defaultChunkSize
	}
	if o.Kind == KindUnknown {
		o.Kind = KindDense
	}
	if o.Kind == KindPacked && int64(o.ChunkNRows)*int64(o.ChunkNCols) > MaxPackedCells {
		notices = append(notices, fmt.Sprintf("packed chunks hold at most %d cells, chunk size reduced from %dx%d to %dx%d",
			MaxPackedCells, o.ChunkNRows, o.ChunkNCols, packedChunkSide, packedChunkSide))
		o.ChunkNRows, o.ChunkNCols = packedChunkSide, packedChunkSide
	}
	if int64(o.ChunkNRows)*int64(o.ChunkNCols) > 1<<32 {
		return nil, fmt.Errorf("%w: chunk size %dx%d too large", ErrInvalidOptions, o.ChunkNRows, o.ChunkNCols)
	}
	if n := ceilDiv(o.NRows, int64(o.ChunkNRows)); n > 1<<31-1 {
		return nil, fmt.Errorf("%w: %d chunk rows", ErrInvalidOptions, n)
	}
	if n := ceilDiv(o.NCols, int64(o.ChunkNCols)); n > 1<<31-1 {
		return nil, fmt.Errorf("%w: %d chunk columns", ErrInvalidOptions, n)
	}
	if o.Dimensions != nil {
		if err := o.Dimensions.Validate(o.NRows, o.NCols); err != nil {
			return nil, err
		}
	}
	return notices, nil
}

func validateGridName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: invalid grid name %q", ErrInvalidOptions, name)
	}
	return nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Grid is a 2D raster of NRows x NCols cells, split into chunks that the
// Manager can swap out of memory. It is the addressing authority: a cell
// (row, col) lives in chunk (row/ChunkNRows, col/ChunkNCols) at offset
// (row%ChunkNRows, col%ChunkNCols).
//
// A Grid is not safe for concurrent use.
type Grid[T Number] struct {
	name   string
	mgr    *Manager
	logger *zap.Logger

	nrows, ncols           int64
	chunkNRows, chunkNCols int32
	nChunkRows, nChunkCols int32
	noData                 T
	dims                   Dimensions

	kind     Kind
	factory  Factory[T]
	dir      string
	tileSize int

	chunks map[ChunkID]*Chunk[T]
	ids    []ChunkID
	stats  Statistics[T]

	persisted bool
	closed    bool
	err       error
}

// New creates a grid where every cell holds the no-data value. Any grid
// previously persisted under the same name is replaced.
func New[T Number](mgr *Manager, opt GridOptions[T]) (*Grid[T], error) {
	g, err := newGrid(mgr, &opt)
	if err != nil {
		return nil, err
	}
	if err := mgr.register(g); err != nil {
		return nil, err
	}
	if err := mgr.swap.DropGrid(g.name); err != nil {
		mgr.unregister(g.name)
		return nil, fmt.Errorf("grid %s: %w", g.name, err)
	}
	for _, id := range g.allChunkIDs() {
		c, err := g.factory.Create(g, id)
		if err != nil {
			g.discard()
			return nil, err
		}
		g.chunks[id] = c
		g.ids = append(g.ids, id)
	}
	return g, nil
}

func newGrid[T Number](mgr *Manager, opt *GridOptions[T]) (*Grid[T], error) {
	if mgr == nil {
		return nil, fmt.Errorf("%w: nil manager", ErrInvalidOptions)
	}
	logger := opt.Logger
	if logger == nil {
		logger = mgr.logger
	}
	notices, err := opt.normalize()
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("grid", opt.Name))
	for _, n := range notices {
		logger.Warn(n)
	}
	factory, err := FactoryFor[T](opt.Kind, opt.Dir, opt.TileSize)
	if err != nil {
		return nil, err
	}

	g := &Grid[T]{
		name:       opt.Name,
		mgr:        mgr,
		logger:     logger,
		nrows:      opt.NRows,
		ncols:      opt.NCols,
		chunkNRows: opt.ChunkNRows,
		chunkNCols: opt.ChunkNCols,
		nChunkRows: int32(ceilDiv(opt.NRows, int64(opt.ChunkNRows))),
		nChunkCols: int32(ceilDiv(opt.NCols, int64(opt.ChunkNCols))),
		noData:     opt.NoData,
		kind:       opt.Kind,
		factory:    factory,
		dir:        opt.Dir,
		tileSize:   opt.TileSize,
		chunks:     make(map[ChunkID]*Chunk[T]),
	}
	if opt.Dimensions != nil {
		g.dims = *opt.Dimensions
	} else {
		g.dims = UnitDimensions(opt.NRows, opt.NCols)
	}
	g.stats = newStatistics(g, opt.Stats)
	return g, nil
}

func (g *Grid[T]) allChunkIDs() []ChunkID {
	ids := make([]ChunkID, 0, int(g.nChunkRows)*int(g.nChunkCols))
	for r := int32(0); r < g.nChunkRows; r++ {
		for c := int32(0); c < g.nChunkCols; c++ {
			ids = append(ids, ChunkID{r, c})
		}
	}
	return ids
}

func (g *Grid[T]) Name() string              { return g.name }
func (g *Grid[T]) NRows() int64              { return g.nrows }
func (g *Grid[T]) NCols() int64              { return g.ncols }
func (g *Grid[T]) NoData() T                 { return g.noData }
func (g *Grid[T]) Kind() Kind                { return g.kind }
func (g *Grid[T]) Dimensions() Dimensions    { return g.dims }
func (g *Grid[T]) Stats() Statistics[T]      { return g.stats }
func (g *Grid[T]) Manager() *Manager         { return g.mgr }
func (g *Grid[T]) NChunks() int              { return len(g.ids) }
func (g *Grid[T]) ChunkSize() (int32, int32) { return g.chunkNRows, g.chunkNCols }

// Err returns the first unrecoverable error hit by an operation that
// reports no error of its own, such as Cell or SetCell.
func (g *Grid[T]) Err() error { return g.err }

func (g *Grid[T]) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

// Resolve maps a grid cell to its chunk and the offset within the chunk.
// ok is false when the cell is outside the grid.
func (g *Grid[T]) Resolve(row, col int64) (id ChunkID, rc RowCol, ok bool) {
	if row < 0 || col < 0 || row >= g.nrows || col >= g.ncols {
		return ChunkID{}, RowCol{}, false
	}
	cr, cc := int64(g.chunkNRows), int64(g.chunkNCols)
	return ChunkID{int32(row / cr), int32(col / cc)}, RowCol{int32(row % cr), int32(col % cc)}, true
}

// CellOf is the inverse of Resolve.
func (g *Grid[T]) CellOf(id ChunkID, rc RowCol) CellID {
	return CellID{
		Row: int64(id.Row)*int64(g.chunkNRows) + int64(rc.Row),
		Col: int64(id.Col)*int64(g.chunkNCols) + int64(rc.Col),
	}
}

func (g *Grid[T]) validChunk(id ChunkID) bool {
	return id.Row >= 0 && id.Col >= 0 && id.Row < g.nChunkRows && id.Col < g.nChunkCols
}

// ChunkNRows returns the actual number of rows of chunk id, which is less
// than the nominal chunk size for the last chunk row of a grid whose row
// count isn't a multiple of it. It returns 0 for chunks outside the grid.
func (g *Grid[T]) ChunkNRows(id ChunkID) int32 {
	if !g.validChunk(id) {
		return 0
	}
	return int32(min(int64(g.chunkNRows), g.nrows-int64(id.Row)*int64(g.chunkNRows)))
}

func (g *Grid[T]) ChunkNCols(id ChunkID) int32 {
	if !g.validChunk(id) {
		return 0
	}
	return int32(min(int64(g.chunkNCols), g.ncols-int64(id.Col)*int64(g.chunkNCols)))
}

func (g *Grid[T]) chunkShape(id ChunkID) (shape[T], bool) {
	if !g.validChunk(id) {
		return shape[T]{}, false
	}
	return shape[T]{
		nrows:  g.ChunkNRows(id),
		ncols:  g.ChunkNCols(id),
		noData: g.noData,
		logger: g.logger,
	}, true
}

// Chunk returns the chunk with the given id, or nil.
func (g *Grid[T]) Chunk(id ChunkID) *Chunk[T] {
	return g.chunks[id]
}

// ChunkIDs returns the ids of all chunks in row-major order.
func (g *Grid[T]) ChunkIDs() []ChunkID {
	return slices.Clone(g.ids)
}

// Cell returns the value at (row, col), or the no-data value outside the
// grid. Low memory is handled by swapping out other chunks; if that
// fails, the no-data value is returned and the failure is kept in Err.
func (g *Grid[T]) Cell(row, col int64) T {
	id, rc, ok := g.Resolve(row, col)
	if !ok || g.closed {
		return g.noData
	}
	return g.chunks[id].Cell(rc.Row, rc.Col)
}

// SetCell stores v at (row, col) and returns the previous value. Writes
// outside the grid are ignored.
func (g *Grid[T]) SetCell(row, col int64, v T) T {
	id, rc, ok := g.Resolve(row, col)
	if !ok || g.closed {
		return g.noData
	}
	return g.chunks[id].SetCell(rc.Row, rc.Col, v)
}

// TryCell is Cell without low-memory handling: ErrLowMemory is returned to
// the caller instead of triggering eviction. The eviction path itself uses
// it to avoid recursing.
func (g *Grid[T]) TryCell(row, col int64) (T, error) {
	if g.closed {
		return g.noData, ErrClosed
	}
	id, rc, ok := g.Resolve(row, col)
	if !ok {
		return g.noData, nil
	}
	return g.chunks[id].cell(rc.Row, rc.Col)
}

// TrySetCell is SetCell without low-memory handling.
func (g *Grid[T]) TrySetCell(row, col int64, v T) (T, error) {
	if g.closed {
		return g.noData, ErrClosed
	}
	id, rc, ok := g.Resolve(row, col)
	if !ok {
		return g.noData, nil
	}
	old, err := g.chunks[id].setCell(rc.Row, rc.Col, v)
	if err != nil {
		return old, err
	}
	if !sameValue(old, v) {
		g.cellChanged(old, v)
	}
	return old, nil
}

func (g *Grid[T]) cellChanged(old, v T) {
	g.stats.cellChanged(old, v)
}

// ConvertChunk switches chunk id to another representation, keeping its
// values.
func (g *Grid[T]) ConvertChunk(id ChunkID, kind Kind) error {
	if g.closed {
		return ErrClosed
	}
	old := g.chunks[id]
	if old == nil {
		return chunkErrf(g.name, id, kind, ErrNotFound, "convert")
	}
	if old.Kind() == kind {
		return nil
	}
	f, err := FactoryFor[T](kind, g.dir, g.tileSize)
	if err != nil {
		return err
	}
	if kind == KindPacked && int(old.NRows())*int(old.NCols()) > MaxPackedCells {
		return chunkErrf(g.name, id, kind, ErrChunkTooLarge, "convert %dx%d chunk", old.NRows(), old.NCols())
	}
	c, err := f.CreateFrom(g, id, old)
	if err != nil {
		return err
	}
	if err := old.destroy(); err != nil {
		g.logger.Warn("discarding converted chunk failed", zap.Stringer("chunk", id), zap.Error(err))
	}
	c.lastUse = old.lastUse
	g.chunks[id] = c
	return nil
}

// Cursor enumerates every cell of the grid, chunk by chunk in row-major
// chunk order; the order within a chunk depends on its representation.
func (g *Grid[T]) Cursor() *GridCursor[T] {
	if g.closed {
		return &GridCursor[T]{g: g, err: ErrClosed}
	}
	return &GridCursor[T]{g: g, ids: slices.Clone(g.ids)}
}

// All is a range-over-func form of Cursor.
func (g *Grid[T]) All() iter.Seq[T] {
	return Values[T](g.Cursor())
}

// Swap swaps out every resident chunk.
func (g *Grid[T]) Swap() error {
	var errs []error
	for _, id := range g.ids {
		if err := g.chunks[id].swapOut(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases the memory and files of the grid and unregisters it. A
// persisted grid is persisted again first, so it can be reopened with its
// latest values; other grids are discarded.
func (g *Grid[T]) Close() error {
	if g.closed {
		return nil
	}
	if g.persisted {
		err := g.Persist()
		if err == nil {
			err = g.Swap()
		}
		g.closed = true
		g.mgr.unregister(g.name)
		return err
	}
	return g.discard()
}

func (g *Grid[T]) discard() error {
	var errs []error
	for _, c := range g.chunks {
		if err := c.destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, g.mgr.swap.DropGrid(g.name))
	g.closed = true
	g.mgr.unregister(g.name)
	return errors.Join(errs...)
}

func (g *Grid[T]) closeForManager() error { return g.Close() }

func (g *Grid[T]) appendEvictable(ex Except, list []evictable) []evictable {
	for _, id := range g.ids {
		c := g.chunks[id]
		if c.resident && !ex.protects(c.ref()) {
			list = append(list, c)
		}
	}
	return list
}

func (g *Grid[T]) String() string {
	return fmt.Sprintf("%s[%dx%d %s chunks of %dx%d]", g.name, g.nrows, g.ncols, g.kind, g.chunkNRows, g.chunkNCols)
}

// GridCursor enumerates the cells of a grid. It visits exactly NRows*NCols
// values unless an unrecoverable error stops it early; check Err.
type GridCursor[T Number] struct {
	g   *Grid[T]
	ids []ChunkID
	pos int
	cur Cursor[T]

	pending bool
	next    T
	v       T
	err     error
}

// HasNext reports whether another value is available, moving on to later
// chunks as needed without consuming the value.
func (c *GridCursor[T]) HasNext() bool {
	if c.pending {
		return true
	}
	for {
		if c.cur != nil {
			if c.cur.Next() {
				c.next = c.cur.Value()
				c.pending = true
				return true
			}
			c.cur.Close()
			c.cur = nil
		}
		if c.pos >= len(c.ids) || c.err != nil {
			return false
		}
		id := c.ids[c.pos]
		c.pos++
		c.cur = c.open(id)
	}
}

func (c *GridCursor[T]) open(id ChunkID) Cursor[T] {
	ch := c.g.chunks[id]
	cur, err := ch.Cursor()
	if err == nil {
		return cur
	}
	if errors.Is(err, ErrLowMemory) || c.g.closed {
		c.err = err
		c.g.fail(err)
		return nil
	}
	c.g.logger.Warn("chunk unreadable, iterating as no-data", zap.Stringer("chunk", id), zap.Error(err))
	n := int64(ch.NRows()) * int64(ch.NCols())
	return newRunCursor([]valueRun[T]{{value: c.g.noData, count: n}})
}

func (c *GridCursor[T]) Next() bool {
	if !c.HasNext() {
		return false
	}
	c.v = c.next
	c.pending = false
	return true
}

func (c *GridCursor[T]) Value() T   { return c.v }
func (c *GridCursor[T]) Err() error { return c.err }

func (c *GridCursor[T]) Close() error {
	c.pos = len(c.ids)
	c.pending = false
	if c.cur == nil {
		return nil
	}
	err := c.cur.Close()
	c.cur = nil
	return err
}
