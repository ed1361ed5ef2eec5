package grids

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 10x10 float64 dense chunks cost 800 bytes each.
const denseChunkBytes = 800

func TestManager_BudgetEvictsLeastRecentlyUsed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newTestManager(t, ManagerOptions{BudgetBytes: 5 * denseChunkBytes, Registerer: reg})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 100, NCols: 100, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})

	want := fillPattern(g, func(r, c int64) bool { return r%10 == c%10 })
	require.NoError(t, g.Err())
	assert.Equal(t, 5, m.Stats().Resident)
	assert.LessOrEqual(t, m.Stats().Charged, int64(5*denseChunkBytes))

	requirePattern(t, g, want)
	assert.Equal(t, 5, m.Stats().Resident)

	assert.Greater(t, testutil.ToFloat64(m.metrics.evictions.WithLabelValues("g", "dense")), 90.0)
	assert.Greater(t, testutil.ToFloat64(m.metrics.swapReads.WithLabelValues("dense")), 0.0)
	assert.Equal(t, float64(5), testutil.ToFloat64(m.metrics.resident))
	assert.Equal(t, float64(5*denseChunkBytes), testutil.ToFloat64(m.metrics.budget))
	assert.Zero(t, testutil.ToFloat64(m.metrics.fatal))

	// the most recently used chunk survives the next eviction
	g.Cell(0, 0)
	assert.Equal(t, 1, m.Evict(Except{}, 1))
	assert.True(t, g.Chunk(ChunkID{0, 0}).IsResident())
}

func TestManager_RetryAfterMonitorFault(t *testing.T) {
	var (
		m     *Manager
		calls int
	)
	// fail every third allocation, as long as another chunk could make room
	monitor := MonitorFunc(func(n int64) error {
		calls++
		if calls%3 == 0 && m.Stats().Resident >= 2 {
			return fmt.Errorf("%w: injected at call %d", ErrLowMemory, calls)
		}
		return nil
	})
	m = newTestManager(t, ManagerOptions{Monitor: monitor})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 40, NCols: 40, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData, Kind: KindSparse})

	want := fillPattern(g, func(r, c int64) bool { return (r*7+c)%4 == 0 })
	require.NoError(t, g.Err())
	requirePattern(t, g, want)

	assert.Greater(t, testutil.ToFloat64(m.metrics.lowMemory), 0.0)
	assert.Zero(t, testutil.ToFloat64(m.metrics.fatal))

	// values survive a full swap cycle
	require.NoError(t, g.Swap())
	requirePattern(t, g, want)
}

func TestManager_NothingToEvict(t *testing.T) {
	m := newTestManager(t, ManagerOptions{BudgetBytes: denseChunkBytes - 100})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 10, NCols: 10, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})

	_, err := g.TryCell(1, 1)
	assert.ErrorIs(t, err, ErrLowMemory)
	assert.True(t, IsLowMemory(err))
	require.NoError(t, g.Err())

	assert.Equal(t, float64(testNoData), g.SetCell(1, 1, 5))
	err = g.Err()
	assert.ErrorIs(t, err, ErrNoEvictableChunk)
	assert.ErrorIs(t, err, ErrLowMemory)
	assert.False(t, IsLowMemory(err))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.fatal))
}

func TestRetry(t *testing.T) {
	t.Run("nil manager runs once", func(t *testing.T) {
		var n int
		_, err := Retry(nil, Except{}, func() (int, error) {
			n++
			return 0, ErrLowMemory
		})
		assert.ErrorIs(t, err, ErrLowMemory)
		assert.Equal(t, 1, n)
	})

	t.Run("other errors pass through", func(t *testing.T) {
		m := newTestManager(t, ManagerOptions{})
		boom := errors.New("boom")
		err := m.Do(Except{}, func() error { return boom })
		assert.Same(t, boom, err)
	})

	t.Run("gives up when nothing is evictable", func(t *testing.T) {
		m := newTestManager(t, ManagerOptions{})
		var n int
		_, err := Retry(m, Except{}, func() (int, error) {
			n++
			return 0, ErrLowMemory
		})
		assert.ErrorIs(t, err, ErrNoEvictableChunk)
		assert.Equal(t, 1, n)
	})

	t.Run("retries after evicting", func(t *testing.T) {
		m := newTestManager(t, ManagerOptions{})
		g := newTestGrid(t, m, GridOptions[float64]{NRows: 20, NCols: 20, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})
		g.SetCell(0, 0, 1)
		g.SetCell(15, 15, 2)

		var n int
		v, err := Retry(m, Except{}, func() (string, error) {
			n++
			if m.Stats().Resident > 0 {
				return "", ErrLowMemory
			}
			return "done", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "done", v)
		assert.Equal(t, 3, n)
		assert.Equal(t, 1.0, g.Cell(0, 0))
		assert.Equal(t, 2.0, g.Cell(15, 15))
	})
}

func TestExcept(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	a := newTestGrid(t, m, GridOptions[float64]{Name: "a", NRows: 20, NCols: 20, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})
	b := newTestGrid(t, m, GridOptions[float64]{Name: "b", NRows: 20, NCols: 20, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})
	fillPattern(a, nil)
	fillPattern(b, nil)
	require.Equal(t, 8, m.Stats().Resident)

	ex := ExceptGrid(a).Union(ExceptChunk(b, ChunkID{1, 1}))
	assert.False(t, ex.IsEmpty())
	assert.True(t, Except{}.IsEmpty())
	assert.Equal(t, "{a, b/chunk(1,1)}", ex.String())
	assert.Equal(t, "{}", Except{}.String())

	assert.Equal(t, 3, m.Evict(ex, 10))
	for _, id := range a.ChunkIDs() {
		assert.True(t, a.Chunk(id).IsResident(), "a/%v", id)
	}
	assert.True(t, b.Chunk(ChunkID{1, 1}).IsResident())
	assert.False(t, b.Chunk(ChunkID{0, 0}).IsResident())
	assert.Equal(t, 0, m.Evict(ex, 10))

	u := Union(ExceptChunk(a, ChunkID{0, 0}), ExceptChunk(a, ChunkID{0, 1}))
	assert.True(t, u.protects(chunkRef{"a", ChunkID{0, 1}}))
	assert.False(t, u.protects(chunkRef{"a", ChunkID{1, 1}}))
	assert.False(t, u.protects(chunkRef{"b", ChunkID{0, 0}}))
}

func TestManager_Options(t *testing.T) {
	_, err := NewManager(ManagerOptions{BudgetBytes: 100, ReserveBytes: 100})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = NewManager(ManagerOptions{BudgetBytes: -1})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestManager_Reserve(t *testing.T) {
	m := newTestManager(t, ManagerOptions{BudgetBytes: 3*denseChunkBytes + 500, ReserveBytes: 500})
	assert.Equal(t, int64(500), m.Stats().Reserved)
	assert.Equal(t, int64(3*denseChunkBytes), m.Stats().Available())

	g := newTestGrid(t, m, GridOptions[float64]{NRows: 40, NCols: 10, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})
	want := fillPattern(g, nil)
	require.NoError(t, g.Err())
	assert.Equal(t, 3, m.Stats().Resident)
	assert.Equal(t, int64(500), m.Stats().Reserved)
	requirePattern(t, g, want)

	ms := ManagerStats{}
	assert.Equal(t, int64(-1), ms.Available())
}

func TestManager_CloseClosesGrids(t *testing.T) {
	m, err := NewManager(ManagerOptions{})
	require.NoError(t, err)
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 10, NCols: 10, NoData: testNoData})
	g.SetCell(0, 0, 1)
	assert.Equal(t, []string{"g"}, m.Grids())

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Empty(t, m.Grids())
	assert.Equal(t, float64(testNoData), g.Cell(0, 0))

	_, err = New(m, GridOptions[float64]{Name: "h", NRows: 1, NCols: 1})
	assert.ErrorIs(t, err, ErrClosed)
}
