package grids

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type DumpFlags uint64

const (
	DumpGridHeader = DumpFlags(1 << iota)
	DumpStats
	DumpChunks
	DumpCounts
	DumpCells
	DumpSwap

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the grid for debugging. Dumping counts or cells loads every
// chunk, so it is only suitable for small grids.
func (g *Grid[T]) Dump(f DumpFlags) string {
	var buf strings.Builder
	prefix := g.name

	if f.Contains(DumpGridHeader) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "%s (%dx%d cells, %d chunks of %dx%d, nodata = %v)\n", prefix, g.nrows, g.ncols, len(g.ids), g.chunkNRows, g.chunkNCols, g.noData)
		fmt.Fprintf(&buf, "%s.dims: %s\n", prefix, g.dims)
	}
	if f.Contains(DumpStats) {
		s := g.StorageStats()
		fmt.Fprintf(&buf, "%s.stats: resident = %d, charged = %d, swap_records = %d, swap_size = %d, swap_alloc = %d\n", prefix, s.Resident, s.Charged, s.SwapRecords, s.SwapSize, s.SwapAlloc)
		if sum, err := g.stats.Summary(); err != nil {
			fmt.Fprintf(&buf, "%s.summary: ** ERROR: %v\n", prefix, err)
		} else {
			fmt.Fprintf(&buf, "%s.summary: n = %d, sum = %v, min = %v, max = %v, mean = %v\n", prefix, sum.N, sum.Sum, sum.Min, sum.Max, sum.Mean)
		}
	}
	if f.Contains(DumpChunks) || f.Contains(DumpCounts) {
		for _, id := range g.ids {
			g.dumpChunk(&buf, prefix, f, g.chunks[id])
		}
	}
	if f.Contains(DumpSwap) {
		ids, err := g.mgr.swap.Records(g.name)
		if err != nil {
			fmt.Fprintf(&buf, "%s.swap: ** ERROR: %v\n", prefix, err)
		} else {
			fmt.Fprintf(&buf, "%s.swap:", prefix)
			for _, id := range ids {
				fmt.Fprintf(&buf, " %d_%d", id.Row, id.Col)
			}
			buf.WriteByte('\n')
		}
	}
	if f.Contains(DumpCells) {
		fmt.Fprintln(&buf, dumpSep2)
		for r := int64(0); r < g.nrows; r++ {
			fmt.Fprintf(&buf, "%s.row%d:", prefix, r)
			for c := int64(0); c < g.ncols; c++ {
				fmt.Fprintf(&buf, " %v", g.Cell(r, c))
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

func (g *Grid[T]) dumpChunk(w *strings.Builder, prefix string, f DumpFlags, c *Chunk[T]) {
	prefix = fmt.Sprintf("%s.%d_%d", prefix, c.id.Row, c.id.Col)
	state := "swapped"
	if c.resident {
		state = "resident"
	}
	if !c.swapUpToDate {
		state += " dirty"
	}
	fmt.Fprintf(w, "%s = %s %dx%d %s mem=%d\n", prefix, c.Kind(), c.NRows(), c.NCols(), state, c.charged)

	if f.Contains(DumpCounts) {
		counts, err := c.Counts()
		if err != nil {
			fmt.Fprintf(w, "%s.counts ** ERROR: %v\n", prefix, err)
			return
		}
		for _, v := range slices.Sorted(maps.Keys(counts)) {
			fmt.Fprintf(w, "%s.count[%v] = %d\n", prefix, v, counts[v])
		}
	}
}
