package grids

import (
	"go.uber.org/zap"
)

type GridStorageStats struct {
	Chunks   int
	Resident int
	ByKind   map[Kind]int

	// Charged is the number of bytes charged to the Manager for resident
	// chunks of this grid.
	Charged int64

	SwapRecords int
	SwapSize    int64
	SwapAlloc   int64
}

func (gs *GridStorageStats) TotalSize() int64 {
	return gs.Charged + gs.SwapSize
}

// StorageStats reports where the chunks of the grid currently live.
func (g *Grid[T]) StorageStats() GridStorageStats {
	result := GridStorageStats{
		Chunks: len(g.ids),
		ByKind: make(map[Kind]int),
	}
	for _, id := range g.ids {
		c := g.chunks[id]
		result.ByKind[c.Kind()]++
		if c.resident {
			result.Resident++
			result.Charged += c.charged
		}
	}
	ss, err := g.mgr.swap.Stats(g.name)
	if err != nil {
		g.logger.Warn("swap store stats unavailable", zap.Error(err))
	} else {
		result.SwapRecords = ss.Records
		result.SwapSize = ss.DataBytes
		result.SwapAlloc = ss.Alloc
	}
	return result
}

type ManagerStats struct {
	Grids    int
	Resident int
	Charged  int64
	Reserved int64
	Budget   int64
}

// Available returns the bytes left before the budget is exhausted, or -1
// without a budget.
func (ms ManagerStats) Available() int64 {
	if ms.Budget == 0 {
		return -1
	}
	return max(ms.Budget-ms.Charged-ms.Reserved, 0)
}

func (m *Manager) Stats() ManagerStats {
	return ManagerStats{
		Grids:    len(m.grids),
		Resident: m.resident,
		Charged:  m.charged,
		Reserved: int64(len(m.reserve)),
		Budget:   m.budget,
	}
}
