package grids

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWindow(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		row, col int64
	}{
		{"aligned dense", KindDense, 10, 10},
		{"aligned file", KindFile, 10, 0},
		{"unaligned sparse", KindSparse, 5, 7},
		{"unaligned tiled", KindTiled, 3, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			m := newTestManager(t, ManagerOptions{})
			src := newTestGrid(t, m, GridOptions[float64]{
				Name: "src", NRows: 30, NCols: 30, ChunkNRows: 10, ChunkNCols: 10,
				NoData: testNoData, Kind: tt.kind, Dir: dir,
			})
			fillPattern(src, func(r, c int64) bool { return (r+c)%2 == 0 })

			w, err := NewWindow(m, src, tt.row, tt.col, 12, 15, GridOptions[float64]{
				Name: "win", ChunkNRows: 10, ChunkNCols: 10, NoData: -1, Kind: tt.kind, Dir: dir,
			})
			require.NoError(t, err)
			assert.Equal(t, int64(12), w.NRows())
			assert.Equal(t, int64(15), w.NCols())

			want := make(map[CellID]float64)
			for r := int64(0); r < 12; r++ {
				for c := int64(0); c < 15; c++ {
					sr, sc := tt.row+r, tt.col+c
					if (sr+sc)%2 == 0 {
						want[CellID{r, c}] = float64(sr*1000 + sc)
					}
				}
			}
			requirePattern(t, w, want)

			d := w.Dimensions()
			assert.True(t, d.XMin.Equal(decimal.NewFromInt(tt.col)), d.String())
			assert.True(t, d.YMin.Equal(decimal.NewFromInt(tt.row)), d.String())
			assert.True(t, d.XMax.Equal(decimal.NewFromInt(tt.col+15)), d.String())

			sum, err := w.Stats().Summary()
			require.NoError(t, err)
			assert.Equal(t, int64(len(want)), sum.N)

			// the source is unaffected
			assert.Equal(t, float64(testNoData), src.Cell(0, 1))
			assert.Equal(t, 2002.0, src.Cell(2, 2))
		})
	}
}

func TestNewWindow_OutOfRange(t *testing.T) {
	m := newTestManager(t, ManagerOptions{})
	src := newTestGrid(t, m, GridOptions[float64]{Name: "src", NRows: 10, NCols: 10, NoData: testNoData})
	_, err := NewWindow(m, src, 5, 5, 6, 2, GridOptions[float64]{Name: "win"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	_, err = NewWindow(m, src, -1, 0, 2, 2, GridOptions[float64]{Name: "win"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, []string{"src"}, m.Grids())
}

func TestNewWindow_CopiesChunkFiles(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, ManagerOptions{})
	src := newTestGrid(t, m, GridOptions[int32]{Name: "src", NRows: 20, NCols: 20, ChunkNRows: 10, ChunkNCols: 10, NoData: -1, Kind: KindFile, Dir: dir})
	src.SetCell(12, 13, 7)
	src.SetCell(19, 19, 8)

	w, err := NewWindow(m, src, 10, 10, 10, 10, GridOptions[int32]{Name: "win", ChunkNRows: 10, ChunkNCols: 10, NoData: -1, Kind: KindFile, Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, int32(7), w.Cell(2, 3))
	assert.Equal(t, int32(8), w.Cell(9, 9))
	assert.Equal(t, int32(-1), w.Cell(0, 0))

	// the copy is independent of the source
	w.SetCell(2, 3, 9)
	assert.Equal(t, int32(7), src.Cell(12, 13))

	counts, err := w.Chunk(ChunkID{0, 0}).Counts()
	require.NoError(t, err)
	assert.Equal(t, map[int32]int64{-1: 98, 9: 1, 8: 1}, counts)
}
