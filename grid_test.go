package grids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGrid_AddressingScenario(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 100, NCols: 100, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})

	id, rc, ok := g.Resolve(55, 73)
	require.True(t, ok)
	assert.Equal(t, ChunkID{5, 7}, id)
	assert.Equal(t, RowCol{5, 3}, rc)
	assert.Equal(t, CellID{55, 73}, g.CellOf(id, rc))

	assert.Equal(t, float64(testNoData), g.SetCell(55, 73, 42.0))
	assert.Equal(t, 42.0, g.Cell(55, 73))
	assert.Equal(t, float64(testNoData), g.Cell(54, 73))
	assert.Equal(t, 42.0, g.Chunk(ChunkID{5, 7}).Cell(5, 3))
	require.NoError(t, g.Err())

	_, _, ok = g.Resolve(100, 0)
	assert.False(t, ok)
	assert.Equal(t, float64(testNoData), g.Cell(-1, 5))
	assert.Equal(t, float64(testNoData), g.SetCell(100, 100, 1))
}

func TestGrid_EdgeChunks(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 25, NCols: 17, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})

	assert.Equal(t, 6, g.NChunks())
	assert.Equal(t, int32(10), g.ChunkNRows(ChunkID{1, 0}))
	assert.Equal(t, int32(5), g.ChunkNRows(ChunkID{2, 0}))
	assert.Equal(t, int32(10), g.ChunkNCols(ChunkID{0, 0}))
	assert.Equal(t, int32(7), g.ChunkNCols(ChunkID{2, 1}))
	assert.Zero(t, g.ChunkNRows(ChunkID{3, 0}))

	c := g.Chunk(ChunkID{2, 1})
	assert.Equal(t, int32(5), c.NRows())
	assert.Equal(t, int32(7), c.NCols())

	g.SetCell(24, 16, 1)
	assert.Equal(t, 1.0, g.Cell(24, 16))

	var n int
	for range g.All() {
		n++
	}
	assert.Equal(t, 25*17, n)
	assert.Equal(t, []ChunkID{{0, 0}, {0, 1}, {1, 0}, {1, 1}, {2, 0}, {2, 1}}, g.ChunkIDs())
}

func TestGrid_ChunksAreLazy(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 100, NCols: 100, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})

	st := g.StorageStats()
	assert.Equal(t, 100, st.Chunks)
	assert.Zero(t, st.Resident)
	assert.Zero(t, m.Stats().Charged)

	assert.Equal(t, float64(testNoData), g.Cell(3, 3))
	st = g.StorageStats()
	assert.Equal(t, 1, st.Resident)
	assert.Equal(t, int64(800), st.Charged)

	// an untouched chunk needs no swap record
	require.NoError(t, g.Swap())
	st = g.StorageStats()
	assert.Zero(t, st.Resident)
	assert.Zero(t, st.SwapRecords)
	assert.Zero(t, m.Stats().Charged)

	g.SetCell(3, 3, 1)
	require.NoError(t, g.Swap())
	assert.Equal(t, 1, g.StorageStats().SwapRecords)
	assert.Equal(t, 1.0, g.Cell(3, 3))
	assert.True(t, g.Chunk(ChunkID{0, 0}).IsSwapUpToDate())
	g.SetCell(3, 3, 2)
	assert.False(t, g.Chunk(ChunkID{0, 0}).IsSwapUpToDate())
}

func TestGrid_AllKinds(t *testing.T) {
	for _, kind := range []Kind{KindDense, KindPacked, KindSparse, KindFile, KindTiled} {
		t.Run(kind.String(), func(t *testing.T) {
			m := newTestManager(t, ManagerOptions{})
			g := newTestGrid(t, m, GridOptions[float64]{
				NRows: 20, NCols: 13, ChunkNRows: 8, ChunkNCols: 8, NoData: testNoData,
				Kind: kind, Dir: t.TempDir(), TileSize: 4,
			})
			want := fillPattern(g, func(r, c int64) bool { return (r+c)%3 == 0 })
			requirePattern(t, g, want)

			require.NoError(t, g.Swap())
			assert.Zero(t, g.StorageStats().Resident)
			requirePattern(t, g, want)

			var n, data int
			cur := g.Cursor()
			for cur.Next() {
				n++
				if cur.Value() != testNoData {
					data++
				}
			}
			require.NoError(t, cur.Err())
			assert.Equal(t, 20*13, n)
			assert.Equal(t, len(want), data)
		})
	}
}

func TestGrid_PackedShrinksChunks(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 20, NCols: 20, Kind: KindPacked, NoData: testNoData})
	r, c := g.ChunkSize()
	assert.Equal(t, int32(8), r)
	assert.Equal(t, int32(8), c)
	assert.Equal(t, 9, g.NChunks())
}

func TestGrid_CursorHasNext(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[int32]{NRows: 3, NCols: 3, ChunkNRows: 2, ChunkNCols: 2, NoData: -1})
	g.SetCell(2, 2, 5)

	cur := g.Cursor()
	defer cur.Close()
	var values []int32
	for cur.HasNext() {
		require.True(t, cur.HasNext())
		require.True(t, cur.Next())
		values = append(values, cur.Value())
	}
	assert.False(t, cur.Next())
	assert.Len(t, values, 9)
	assert.Equal(t, int32(5), values[8])
}

func TestGrid_Options(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	for name, opt := range map[string]GridOptions[float64]{
		"empty name":  {NRows: 1, NCols: 1},
		"slash":       {Name: "a/b", NRows: 1, NCols: 1},
		"no rows":     {Name: "g", NCols: 1},
		"neg chunk":   {Name: "g", NRows: 1, NCols: 1, ChunkNRows: -1},
		"file no dir": {Name: "g", NRows: 1, NCols: 1, Kind: KindFile},
	} {
		_, err := New(m, opt)
		assert.ErrorIs(t, err, ErrInvalidOptions, name)
	}
	assert.Empty(t, m.Grids())

	_, err := New[float64](nil, GridOptions[float64]{Name: "g", NRows: 1, NCols: 1})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	newTestGrid(t, m, GridOptions[float64]{Name: "dup", NRows: 1, NCols: 1})
	_, err = New(m, GridOptions[float64]{Name: "dup", NRows: 1, NCols: 1})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestGrid_ConvertChunk(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 16, NCols: 16, ChunkNRows: 8, ChunkNCols: 8, NoData: testNoData, Dir: t.TempDir()})
	want := fillPattern(g, func(r, c int64) bool { return r%5 == 0 })

	id := ChunkID{0, 1}
	for _, kind := range []Kind{KindPacked, KindSparse, KindFile, KindTiled, KindDense} {
		require.NoError(t, g.ConvertChunk(id, kind))
		assert.Equal(t, kind, g.Chunk(id).Kind())
		requirePattern(t, g, want)
	}

	g.SetCell(0, 8, 77)
	want[CellID{0, 8}] = 77
	require.NoError(t, g.Swap())
	requirePattern(t, g, want)

	assert.ErrorIs(t, g.ConvertChunk(ChunkID{5, 5}, KindDense), ErrNotFound)
}

func TestGrid_ConvertChunkTooLarge(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 10, NCols: 10, ChunkNRows: 10, ChunkNCols: 10, NoData: testNoData})
	assert.ErrorIs(t, g.ConvertChunk(ChunkID{0, 0}, KindPacked), ErrChunkTooLarge)
}

func TestGrid_Closed(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 10, NCols: 10, NoData: testNoData})
	g.SetCell(1, 1, 1)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())

	assert.Equal(t, float64(testNoData), g.Cell(1, 1))
	_, err := g.TryCell(1, 1)
	assert.ErrorIs(t, err, ErrClosed)
	cur := g.Cursor()
	assert.False(t, cur.Next())
	assert.ErrorIs(t, cur.Err(), ErrClosed)
	assert.Empty(t, m.Grids())
	assert.Zero(t, m.Stats().Charged)

	// the name can be reused once closed
	newTestGrid(t, m, GridOptions[float64]{NRows: 10, NCols: 10, NoData: testNoData})
}

func TestGrid_ReplacesStaleRecords(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	g := newTestGrid(t, m, GridOptions[float64]{NRows: 10, NCols: 10, NoData: testNoData})
	g.SetCell(1, 1, 1)
	require.NoError(t, g.Persist())
	require.NoError(t, g.Close())

	g = newTestGrid(t, m, GridOptions[float64]{NRows: 10, NCols: 10, NoData: testNoData})
	assert.Equal(t, float64(testNoData), g.Cell(1, 1))
	names, err := m.PersistedGrids()
	require.NoError(t, err)
	assert.Empty(t, names)
}
