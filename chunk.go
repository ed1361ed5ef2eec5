package grids

import (
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"
)

// cellStore is the payload of a chunk in one of the representations. All
// coordinates passed in are already bounds-checked by Chunk.
type cellStore[T Number] interface {
	kind() Kind

	get(row, col int32) (T, error)
	// set stores v and returns the previous value.
	set(row, col int32, v T) (T, error)
	// init stores v without reading the previous value. File-backed stores
	// expect init calls in row-major order after prepare.
	init(row, col int32, v T) error

	// prepare readies an empty payload for a sequence of init calls, and
	// finishInit completes it.
	prepare() error
	finishInit() error

	// alloc creates a fresh payload where every cell is no-data.
	alloc() error
	// release drops the payload. Stores with their own mirror flush first.
	release() error
	// destroy releases the payload and removes anything kept on disk.
	destroy() error

	// growth estimates the extra bytes setting a cell to v may need.
	growth(v T) int64
	// allocSize estimates the bytes alloc needs.
	allocSize() int64
	memSize() int64

	cursor() (Cursor[T], error)
	counts() map[T]int64
}

// memoryStore is implemented by stores that live on the heap and have to
// be serialized into the swap store when evicted.
type memoryStore[T Number] interface {
	cellStore[T]
	marshal() ([]byte, error)
	unmarshal(payload []byte) error
}

// mirroredStore is implemented by stores whose payload already lives in a
// file of their own.
type mirroredStore[T Number] interface {
	cellStore[T]
	flush() error
	reopen() error
	path() string
}

// shape carries what every store needs to know about its chunk.
type shape[T Number] struct {
	nrows, ncols int32
	noData       T
	logger       *zap.Logger
}

func (s shape[T]) cells() int { return int(s.nrows) * int(s.ncols) }

func (s shape[T]) index(row, col int32) int { return int(row)*int(s.ncols) + int(col) }

// Chunk holds the values of one rectangular block of a Grid. A chunk is
// always fully populated: cells never written read as the no-data value.
//
// A chunk is either resident (its payload is in memory or its file is open)
// or swapped out, in which case the next access brings it back from the
// swap store or from its own file.
type Chunk[T Number] struct {
	grid  *Grid[T]
	id    ChunkID
	shape shape[T]
	store cellStore[T]

	resident     bool
	swapUpToDate bool
	// pristine chunks have never been written since creation, so
	// swapping them out needs no record.
	pristine bool
	charged  int64
	lastUse  uint64
}

func newChunk[T Number](g *Grid[T], id ChunkID, sh shape[T], store cellStore[T]) *Chunk[T] {
	if sh.logger == nil {
		sh.logger = zap.NewNop()
	}
	return &Chunk[T]{grid: g, id: id, shape: sh, store: store}
}

func (c *Chunk[T]) ID() ChunkID          { return c.id }
func (c *Chunk[T]) Kind() Kind           { return c.store.kind() }
func (c *Chunk[T]) NRows() int32         { return c.shape.nrows }
func (c *Chunk[T]) NCols() int32         { return c.shape.ncols }
func (c *Chunk[T]) NoData() T            { return c.shape.noData }
func (c *Chunk[T]) IsResident() bool     { return c.resident }
func (c *Chunk[T]) IsSwapUpToDate() bool { return c.swapUpToDate }

// MemSize returns the heap bytes currently charged for the chunk payload.
func (c *Chunk[T]) MemSize() int64 { return c.charged }

func (c *Chunk[T]) String() string {
	return fmt.Sprintf("%s[%s %dx%d]", c.id, c.Kind(), c.shape.nrows, c.shape.ncols)
}

func (c *Chunk[T]) inBounds(row, col int32) bool {
	return row >= 0 && col >= 0 && row < c.shape.nrows && col < c.shape.ncols
}

func (c *Chunk[T]) manager() *Manager {
	if c.grid == nil {
		return nil
	}
	return c.grid.mgr
}

func (c *Chunk[T]) gridName() string {
	if c.grid == nil {
		return ""
	}
	return c.grid.name
}

func (c *Chunk[T]) except() Except {
	if c.grid == nil {
		return Except{}
	}
	return ExceptChunk(c.grid, c.id)
}

func (c *Chunk[T]) errf(err error, format string, args ...any) error {
	return chunkErrf(c.gridName(), c.id, c.Kind(), err, format, args...)
}

// Cell returns the value at (row, col), or the no-data value when the
// position is outside the chunk or cannot be read.
func (c *Chunk[T]) Cell(row, col int32) T {
	v, err := Retry(c.manager(), c.except(), func() (T, error) {
		return c.cell(row, col)
	})
	if err != nil {
		c.failed("chunk read failed", err)
		return c.shape.noData
	}
	return v
}

// SetCell stores v at (row, col) and returns the previous value. Positions
// outside the chunk are ignored and report the no-data value.
func (c *Chunk[T]) SetCell(row, col int32, v T) T {
	old, err := Retry(c.manager(), c.except(), func() (T, error) {
		return c.setCell(row, col, v)
	})
	if err != nil {
		c.failed("chunk write failed", err)
		return c.shape.noData
	}
	if c.grid != nil && !sameValue(old, v) {
		c.grid.cellChanged(old, v)
	}
	return old
}

func (c *Chunk[T]) failed(msg string, err error) {
	c.shape.logger.Error(msg, zap.Stringer("chunk", c.id), zap.Error(err))
	if c.grid != nil {
		c.grid.fail(err)
	}
}

func (c *Chunk[T]) cell(row, col int32) (T, error) {
	if !c.inBounds(row, col) {
		return c.shape.noData, nil
	}
	if err := c.ensureResident(); err != nil {
		return c.shape.noData, err
	}
	c.touch()
	v, err := c.store.get(row, col)
	if err != nil {
		c.shape.logger.Warn("cell read failed, using no-data", zap.Stringer("chunk", c.id), zap.Int32("row", row), zap.Int32("col", col), zap.Error(err))
		return c.shape.noData, nil
	}
	return v, nil
}

func (c *Chunk[T]) setCell(row, col int32, v T) (T, error) {
	if !c.inBounds(row, col) {
		return c.shape.noData, nil
	}
	if err := c.ensureResident(); err != nil {
		return c.shape.noData, err
	}
	c.touch()
	if n := c.store.growth(v); n > 0 {
		if err := c.charge(n); err != nil {
			return c.shape.noData, err
		}
	}
	old, err := c.store.set(row, col, v)
	c.reconcile()
	if err != nil {
		c.shape.logger.Warn("cell write failed", zap.Stringer("chunk", c.id), zap.Int32("row", row), zap.Int32("col", col), zap.Error(err))
		return c.shape.noData, nil
	}
	if !sameValue(old, v) {
		c.swapUpToDate = false
		c.pristine = false
	}
	return old, nil
}

// InitCell stores v without reading back the previous value. It is meant for
// bulk filling: grid statistics are invalidated instead of updated.
func (c *Chunk[T]) InitCell(row, col int32, v T) error {
	if !c.inBounds(row, col) {
		return c.errf(nil, "init cell (%d,%d) out of bounds", row, col)
	}
	err := c.manager().Do(c.except(), c.ensureResident)
	if err != nil {
		return err
	}
	c.touch()
	c.swapUpToDate = false
	err = c.initCell(row, col, v)
	c.reconcile()
	if c.grid != nil {
		c.grid.stats.Invalidate()
	}
	return err
}

// initCell writes into a resident, prepared store.
func (c *Chunk[T]) initCell(row, col int32, v T) error {
	c.pristine = false
	return c.store.init(row, col, v)
}

// ClearData drops the payload without persisting it; unsaved changes are
// lost. Use Swap to persist first.
func (c *Chunk[T]) ClearData() error {
	if !c.resident {
		return nil
	}
	err := c.store.release()
	c.uncharge()
	c.setResident(false)
	if err != nil {
		return c.errf(err, "clear data")
	}
	return nil
}

// InitData allocates a fresh payload with every cell set to no-data.
func (c *Chunk[T]) InitData() error {
	if c.resident {
		if err := c.ClearData(); err != nil {
			return err
		}
	}
	if err := c.charge(c.store.allocSize()); err != nil {
		return err
	}
	if err := c.store.alloc(); err != nil {
		c.uncharge()
		return c.errf(err, "init data")
	}
	c.setResident(true)
	c.pristine = true
	c.swapUpToDate = false
	c.reconcile()
	return nil
}

// Swap persists the chunk if needed and releases its payload.
func (c *Chunk[T]) Swap() error {
	return c.swapOut()
}

// Cursor enumerates every cell value of the chunk in the representation's
// own order. Exactly NRows*NCols values are produced.
func (c *Chunk[T]) Cursor() (Cursor[T], error) {
	return Retry(c.manager(), c.except(), c.cursor)
}

// All is a range-over-func form of Cursor. A chunk that cannot be loaded
// yields nothing.
func (c *Chunk[T]) All() iter.Seq[T] {
	cur, err := c.Cursor()
	if err != nil {
		c.failed("chunk cursor failed", err)
		cur = emptyCursor[T]{}
	}
	return Values(cur)
}

func (c *Chunk[T]) cursor() (Cursor[T], error) {
	if err := c.ensureResident(); err != nil {
		return nil, err
	}
	c.touch()
	cur, err := c.store.cursor()
	if err != nil {
		return nil, c.errf(err, "cursor")
	}
	return cur, nil
}

// Counts aggregates the chunk into value -> number of cells. The counts
// always add up to NRows*NCols. All NaN cells share one entry, which can
// only be found by ranging over the map.
func (c *Chunk[T]) Counts() (map[T]int64, error) {
	return Retry(c.manager(), c.except(), func() (map[T]int64, error) {
		if err := c.ensureResident(); err != nil {
			return nil, err
		}
		return c.store.counts(), nil
	})
}

func (c *Chunk[T]) touch() {
	if m := c.manager(); m != nil {
		m.tick++
		c.lastUse = m.tick
	}
}

func (c *Chunk[T]) charge(n int64) error {
	if n <= 0 {
		return nil
	}
	if m := c.manager(); m != nil {
		if err := m.charge(n); err != nil {
			return err
		}
	}
	c.charged += n
	return nil
}

// reconcile brings the charged amount in line with the actual payload size
// after a mutation. It never fails; growth beyond the estimate is charged
// unconditionally.
func (c *Chunk[T]) reconcile() {
	delta := c.store.memSize() - c.charged
	if delta == 0 {
		return
	}
	if m := c.manager(); m != nil {
		if delta > 0 {
			m.forceCharge(delta)
		} else {
			m.credit(-delta)
		}
	}
	c.charged += delta
}

func (c *Chunk[T]) uncharge() {
	if m := c.manager(); m != nil {
		m.credit(c.charged)
	}
	c.charged = 0
}

func (c *Chunk[T]) ensureResident() error {
	if c.resident {
		return nil
	}
	return c.swapIn()
}

func (c *Chunk[T]) swapIn() error {
	if c.grid == nil {
		return c.InitData()
	}
	m := c.grid.mgr

	if ms, ok := c.store.(mirroredStore[T]); ok {
		if err := c.charge(ms.allocSize()); err != nil {
			return err
		}
		if err := ms.reopen(); err != nil {
			c.uncharge()
			return c.errf(err, "reopen %s", ms.path())
		}
		c.setResident(true)
		c.swapUpToDate = true
		c.reconcile()
		m.swappedIn(c.Kind())
		return nil
	}

	data, err := m.swap.Get(c.grid.name, c.id)
	if errors.Is(err, ErrNotFound) {
		// never persisted: it was pristine when it went out
		return c.InitData()
	} else if err != nil {
		return c.errf(err, "swap in")
	}
	rec, err := decodeSwapRecord(data)
	if err != nil {
		return c.errf(err, "swap in")
	}
	if rec.NRows != c.shape.nrows || rec.NCols != c.shape.ncols {
		return c.errf(nil, "swap record is %dx%d, wanted %dx%d", rec.NRows, rec.NCols, c.shape.nrows, c.shape.ncols)
	}
	ms, ok := c.store.(memoryStore[T])
	if !ok || rec.Kind != c.Kind() {
		return c.errf(nil, "swap record holds a %s chunk", rec.Kind)
	}
	if err := c.charge(max(int64(len(rec.Payload)), ms.allocSize())); err != nil {
		return err
	}
	if err := ms.unmarshal(rec.Payload); err != nil {
		c.uncharge()
		return c.errf(err, "swap in")
	}
	c.setResident(true)
	c.swapUpToDate = true
	c.pristine = false
	c.reconcile()
	m.swappedIn(c.Kind())
	return nil
}

// swapOut persists the chunk unless its mirror is already current, then
// releases the payload. It never allocates through the Manager, so it is
// safe to call while recovering from low memory.
func (c *Chunk[T]) swapOut() error {
	if !c.resident {
		return nil
	}
	if c.grid == nil {
		return c.errf(nil, "detached chunk cannot be swapped")
	}
	m := c.grid.mgr

	switch s := c.store.(type) {
	case mirroredStore[T]:
		if err := s.flush(); err != nil {
			return c.errf(err, "flush")
		}
	case memoryStore[T]:
		if c.pristine {
			if err := m.swap.Delete(c.grid.name, c.id); err != nil {
				return c.errf(err, "swap out")
			}
		} else if !c.swapUpToDate {
			if err := c.persist(s); err != nil {
				return err
			}
		}
	}
	c.swapUpToDate = true
	return c.ClearData()
}

func (c *Chunk[T]) persist(s memoryStore[T]) error {
	payload, err := s.marshal()
	if err != nil {
		return c.errf(err, "marshal")
	}
	rec := encodeSwapRecord(nil, swapRecord{
		Kind:    c.Kind(),
		NRows:   c.shape.nrows,
		NCols:   c.shape.ncols,
		Payload: payload,
	})
	if err := c.grid.mgr.swap.Put(c.grid.name, c.id, rec); err != nil {
		return c.errf(err, "swap out")
	}
	c.grid.mgr.swappedOut(c.Kind(), len(rec))
	return nil
}

// destroy releases everything the chunk holds, including its files and
// swap record.
func (c *Chunk[T]) destroy() error {
	err := c.store.destroy()
	c.uncharge()
	c.setResident(false)
	if c.grid != nil {
		if derr := c.grid.mgr.swap.Delete(c.grid.name, c.id); err == nil {
			err = derr
		}
	}
	return err
}

func (c *Chunk[T]) setResident(v bool) {
	if c.resident == v {
		return
	}
	c.resident = v
	if m := c.manager(); m != nil {
		if v {
			m.residentChanged(1)
		} else {
			m.residentChanged(-1)
		}
	}
}

func (c *Chunk[T]) ref() chunkRef    { return chunkRef{c.gridName(), c.id} }
func (c *Chunk[T]) lastUsed() uint64 { return c.lastUse }
