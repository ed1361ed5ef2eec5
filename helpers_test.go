package grids

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testNoData = -9999

func newTestManager(t testing.TB, opt ManagerOptions) *Manager {
	t.Helper()
	if opt.Logger == nil {
		opt.Logger = zaptest.NewLogger(t)
	}
	if opt.Registerer == nil {
		opt.Registerer = prometheus.NewRegistry()
	}
	opt.Testing = true
	m, err := NewManager(opt)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, m.Close())
	})
	return m
}

func newTestGrid[T Number](t testing.TB, m *Manager, opt GridOptions[T]) *Grid[T] {
	t.Helper()
	if opt.Name == "" {
		opt.Name = "g"
	}
	g, err := New(m, opt)
	require.NoError(t, err)
	return g
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// fillPattern writes a value derived from the position into every cell
// for which keep returns true, and returns what was written.
func fillPattern(g *Grid[float64], keep func(r, c int64) bool) map[CellID]float64 {
	want := make(map[CellID]float64)
	for r := int64(0); r < g.NRows(); r++ {
		for c := int64(0); c < g.NCols(); c++ {
			if keep != nil && !keep(r, c) {
				continue
			}
			v := float64(r*1000 + c)
			g.SetCell(r, c, v)
			want[CellID{r, c}] = v
		}
	}
	return want
}

func requirePattern(t testing.TB, g *Grid[float64], want map[CellID]float64) {
	t.Helper()
	for r := int64(0); r < g.NRows(); r++ {
		for c := int64(0); c < g.NCols(); c++ {
			v, ok := want[CellID{r, c}]
			if !ok {
				v = g.NoData()
			}
			if a := g.Cell(r, c); a != v {
				t.Fatalf("** cell(%d,%d) = %v, wanted %v", r, c, a, v)
			}
		}
	}
	require.NoError(t, g.Err())
}
