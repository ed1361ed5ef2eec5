package grids

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type ManagerOptions struct {
	// BudgetBytes caps the bytes charged for resident chunk payloads.
	// Zero means no budget; MemoryMonitor can still signal low memory.
	BudgetBytes int64

	// ReserveBytes of headroom are set aside and released while handling
	// a low-memory condition, so that swapping out has memory to work with.
	// The reserve counts against the budget.
	ReserveBytes int64

	// EvictBatch is how many chunks one low-memory event swaps out.
	// Defaults to 1.
	EvictBatch int

	// SwapPath is the bbolt file that swapped-out and persisted chunks are
	// written to. Empty keeps them in memory, which only makes sense for
	// tests and for budgets meant to bound resident chunk counts.
	SwapPath string

	Monitor    MemoryMonitor
	Logger     *zap.Logger
	Registerer prometheus.Registerer

	// Testing trades durability of the swap file for speed.
	Testing bool
}

// Manager tracks the memory used by the chunks of every grid registered
// with it, and swaps chunks out when it runs low. It is not safe for
// concurrent use; all grids of a Manager must be used from one goroutine.
type Manager struct {
	logger  *zap.Logger
	swap    swapStore
	monitor MemoryMonitor
	metrics *managerMetrics

	budget      int64
	batch       int
	reserveSize int64
	reserve     []byte

	charged  int64
	resident int
	tick     uint64
	grids    map[string]managedGrid
	closed   bool
}

// managedGrid is the type-erased view of a Grid the Manager needs.
type managedGrid interface {
	Name() string
	appendEvictable(ex Except, list []evictable) []evictable
	closeForManager() error
}

type evictable interface {
	ref() chunkRef
	lastUsed() uint64
	Kind() Kind
	swapOut() error
}

func NewManager(opt ManagerOptions) (*Manager, error) {
	if opt.BudgetBytes < 0 || opt.ReserveBytes < 0 {
		return nil, fmt.Errorf("%w: negative memory size", ErrInvalidOptions)
	}
	if opt.BudgetBytes > 0 && opt.ReserveBytes >= opt.BudgetBytes {
		return nil, fmt.Errorf("%w: reserve of %d bytes leaves nothing of the %d byte budget", ErrInvalidOptions, opt.ReserveBytes, opt.BudgetBytes)
	}
	logger := opt.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var swap swapStore
	if opt.SwapPath == "" {
		swap = newMemSwapStore()
	} else {
		var err error
		swap, err = openBoltSwapStore(opt.SwapPath, opt.Testing)
		if err != nil {
			return nil, err
		}
	}

	m := &Manager{
		logger:      logger,
		swap:        swap,
		monitor:     opt.Monitor,
		metrics:     newManagerMetrics(opt.Registerer),
		budget:      opt.BudgetBytes,
		batch:       max(opt.EvictBatch, 1),
		reserveSize: opt.ReserveBytes,
		grids:       make(map[string]managedGrid),
	}
	m.metrics.budget.Set(float64(m.budget))
	m.restoreReserve()
	return m, nil
}

// Close closes every grid still registered and then the swap store.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(m.grids)) {
		if err := m.grids[name].closeForManager(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closed = true
	m.reserve = nil
	errs = append(errs, m.swap.Close())
	return errors.Join(errs...)
}

func (m *Manager) register(g managedGrid) error {
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.grids[g.Name()]; ok {
		return fmt.Errorf("%w: grid %q already open", ErrInvalidOptions, g.Name())
	}
	m.grids[g.Name()] = g
	return nil
}

func (m *Manager) unregister(name string) {
	delete(m.grids, name)
}

// Grids lists the names of the open grids.
func (m *Manager) Grids() []string {
	return slices.Sorted(maps.Keys(m.grids))
}

// PersistedGrids lists the grids saved in the swap store with Persist.
func (m *Manager) PersistedGrids() ([]string, error) {
	return m.swap.Grids()
}

// DropPersisted removes a persisted grid from the swap store. Open grids
// can't be dropped.
func (m *Manager) DropPersisted(name string) error {
	if _, ok := m.grids[name]; ok {
		return fmt.Errorf("%w: grid %q is open", ErrInvalidOptions, name)
	}
	return m.swap.DropGrid(name)
}

func (m *Manager) inUse() int64 {
	return m.charged + int64(len(m.reserve))
}

func (m *Manager) charge(n int64) error {
	if m.budget > 0 && m.inUse()+n > m.budget {
		return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrLowMemory, n, m.inUse(), m.budget)
	}
	if m.monitor != nil {
		if err := m.monitor.Check(n); err != nil {
			return err
		}
	}
	m.forceCharge(n)
	return nil
}

// forceCharge records n bytes that are already allocated.
func (m *Manager) forceCharge(n int64) {
	m.charged += n
	m.metrics.charged.Set(float64(m.charged))
}

func (m *Manager) credit(n int64) {
	m.charged -= n
	if m.charged < 0 {
		m.logger.DPanic("charged bytes went negative", zap.Int64("charged", m.charged))
		m.charged = 0
	}
	m.metrics.charged.Set(float64(m.charged))
}

func (m *Manager) residentChanged(delta int) {
	m.resident += delta
	m.metrics.resident.Set(float64(m.resident))
}

func (m *Manager) swappedIn(kind Kind) {
	m.metrics.swapReads.WithLabelValues(kind.String()).Inc()
}

func (m *Manager) swappedOut(kind Kind, n int) {
	m.metrics.swapWrites.WithLabelValues(kind.String()).Inc()
	m.metrics.swapWriteBytes.Add(float64(n))
}

func (m *Manager) restoreReserve() {
	if m.reserveSize == 0 || m.reserve != nil {
		return
	}
	if m.budget > 0 && m.charged+m.reserveSize > m.budget {
		return
	}
	m.reserve = make([]byte, m.reserveSize)
}

// Evict swaps out up to n of the least recently used resident chunks not
// protected by ex, and returns how many were swapped out.
func (m *Manager) Evict(ex Except, n int) int {
	var cands []evictable
	for _, name := range slices.Sorted(maps.Keys(m.grids)) {
		if ex.protectsGrid(name) {
			continue
		}
		cands = m.grids[name].appendEvictable(ex, cands)
	}
	slices.SortFunc(cands, func(a, b evictable) int {
		if c := cmp.Compare(a.lastUsed(), b.lastUsed()); c != 0 {
			return c
		}
		ra, rb := a.ref(), b.ref()
		if c := strings.Compare(ra.grid, rb.grid); c != 0 {
			return c
		}
		return ra.id.Compare(rb.id)
	})

	var evicted int
	for _, c := range cands {
		if evicted >= n {
			break
		}
		ref := c.ref()
		if err := c.swapOut(); err != nil {
			m.logger.Warn("chunk eviction failed", zap.String("grid", ref.grid), zap.Stringer("chunk", ref.id), zap.Error(err))
			continue
		}
		m.metrics.evictions.WithLabelValues(ref.grid, c.Kind().String()).Inc()
		evicted++
	}
	return evicted
}

func (m *Manager) handleLowMemory(ex Except, cause error) error {
	m.metrics.lowMemory.Inc()
	m.reserve = nil
	n := m.Evict(ex, m.batch)
	if n == 0 {
		m.metrics.fatal.Inc()
		m.logger.Error("low memory and no chunk left to evict",
			zap.Error(cause),
			zap.Int64("charged", m.charged),
			zap.Int64("budget", m.budget),
			zap.Stringer("except", ex))
		return fmt.Errorf("%w: %v", ErrNoEvictableChunk, cause)
	}
	m.restoreReserve()
	m.logger.Debug("evicted chunks on low memory", zap.Int("count", n), zap.Error(cause))
	return nil
}

// Retry runs op, and each time it fails with a recoverable low-memory
// error, swaps out chunks not protected by ex and runs it again. It gives
// up with ErrNoEvictableChunk once nothing is left to swap out. Other
// errors are returned as is. A nil Manager runs op once.
func Retry[R any](m *Manager, ex Except, op func() (R, error)) (R, error) {
	for {
		r, err := op()
		if err == nil || m == nil || !IsLowMemory(err) {
			return r, err
		}
		if herr := m.handleLowMemory(ex, err); herr != nil {
			var zero R
			return zero, herr
		}
	}
}

// Do is Retry for operations without a result.
func (m *Manager) Do(ex Except, fn func() error) error {
	_, err := Retry(m, ex, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

type chunkRef struct {
	grid string
	id   ChunkID
}

// Except is the set of chunks and grids an operation needs in memory, and
// which eviction therefore has to leave alone. The zero value protects
// nothing.
type Except struct {
	grids  []string
	chunks []chunkRef
}

func ExceptChunk[T Number](g *Grid[T], id ChunkID) Except {
	return Except{chunks: []chunkRef{{g.name, id}}}
}

func ExceptGrid[T Number](g *Grid[T]) Except {
	return Except{grids: []string{g.name}}
}

func Union(es ...Except) Except {
	var u Except
	for _, e := range es {
		u.grids = append(u.grids, e.grids...)
		u.chunks = append(u.chunks, e.chunks...)
	}
	return u
}

func (e Except) Union(o Except) Except {
	return Union(e, o)
}

func (e Except) IsEmpty() bool {
	return len(e.grids) == 0 && len(e.chunks) == 0
}

func (e Except) protectsGrid(name string) bool {
	return slices.Contains(e.grids, name)
}

func (e Except) protects(ref chunkRef) bool {
	return e.protectsGrid(ref.grid) || slices.Contains(e.chunks, ref)
}

func (e Except) String() string {
	if e.IsEmpty() {
		return "{}"
	}
	var buf strings.Builder
	buf.WriteByte('{')
	for i, g := range e.grids {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(g)
	}
	for i, c := range e.chunks {
		if i > 0 || len(e.grids) > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(c.grid)
		buf.WriteByte('/')
		buf.WriteString(c.id.String())
	}
	buf.WriteByte('}')
	return buf.String()
}
