package grids

import "fmt"

type StatsMode uint8

const (
	// StatsRecompute rescans the grid on the first read after a change.
	StatsRecompute StatsMode = iota
	// StatsIncremental updates the aggregates on every change, rescanning
	// only when the current minimum or maximum is overwritten.
	StatsIncremental
)

func (m StatsMode) String() string {
	switch m {
	case StatsRecompute:
		return "recompute"
	case StatsIncremental:
		return "incremental"
	default:
		return fmt.Sprintf("statsmode(%d)", uint8(m))
	}
}

func ParseStatsMode(s string) (StatsMode, error) {
	switch s {
	case "", "recompute":
		return StatsRecompute, nil
	case "incremental":
		return StatsIncremental, nil
	default:
		return 0, fmt.Errorf("unknown stats mode %q", s)
	}
}

// Summary aggregates the cells of a grid that don't hold the no-data
// value. Min and Max are the no-data value and Mean is 0 when N is 0.
type Summary[T Number] struct {
	N    int64
	Sum  float64
	Min  T
	Max  T
	Mean float64
}

// Statistics is the cached aggregate of a grid.
type Statistics[T Number] interface {
	// Summary returns the aggregate, recomputing it first if it is stale.
	Summary() (Summary[T], error)

	// IsUpToDate reports whether Summary can answer without a rescan.
	IsUpToDate() bool

	// Invalidate forces the next Summary to rescan.
	Invalidate()

	cellChanged(old, v T)
}

func newStatistics[T Number](g *Grid[T], mode StatsMode) Statistics[T] {
	if mode == StatsIncremental {
		return &IncrementalStats[T]{g: g, sum: emptySummary(g.noData), upToDate: true}
	}
	return &RecomputingStats[T]{g: g, sum: emptySummary(g.noData), upToDate: true}
}

func emptySummary[T Number](noData T) Summary[T] {
	return Summary[T]{Min: noData, Max: noData}
}

func (s *Summary[T]) add(v T) {
	if s.N == 0 {
		s.Min, s.Max = v, v
	} else {
		s.Min, s.Max = min(s.Min, v), max(s.Max, v)
	}
	s.N++
	s.Sum += float64(v)
}

func (s *Summary[T]) finish() {
	if s.N > 0 {
		s.Mean = s.Sum / float64(s.N)
	} else {
		s.Mean = 0
	}
}

// scan computes the summary of g from scratch.
func scan[T Number](g *Grid[T]) (Summary[T], error) {
	sum := emptySummary(g.noData)
	cur := g.Cursor()
	defer cur.Close()
	for cur.Next() {
		if v := cur.Value(); !sameValue(v, g.noData) {
			sum.add(v)
		}
	}
	if err := cur.Err(); err != nil {
		return Summary[T]{}, fmt.Errorf("grid %s: statistics: %w", g.name, err)
	}
	sum.finish()
	return sum, nil
}

// RecomputingStats keeps nothing between changes: any change marks the
// summary stale and the next read rescans the grid.
type RecomputingStats[T Number] struct {
	g        *Grid[T]
	sum      Summary[T]
	upToDate bool
}

func (s *RecomputingStats[T]) Summary() (Summary[T], error) {
	if !s.upToDate {
		sum, err := scan(s.g)
		if err != nil {
			return Summary[T]{}, err
		}
		s.sum, s.upToDate = sum, true
	}
	return s.sum, nil
}

func (s *RecomputingStats[T]) IsUpToDate() bool { return s.upToDate }
func (s *RecomputingStats[T]) Invalidate()      { s.upToDate = false }
func (s *RecomputingStats[T]) cellChanged(T, T) { s.upToDate = false }

// IncrementalStats applies every change to the running aggregate. Removing
// the current minimum or maximum leaves the extreme unknown, which makes
// the summary stale until the next rescan.
type IncrementalStats[T Number] struct {
	g        *Grid[T]
	sum      Summary[T]
	upToDate bool
}

func (s *IncrementalStats[T]) Summary() (Summary[T], error) {
	if !s.upToDate {
		sum, err := scan(s.g)
		if err != nil {
			return Summary[T]{}, err
		}
		s.sum, s.upToDate = sum, true
	}
	s.sum.finish()
	return s.sum, nil
}

func (s *IncrementalStats[T]) IsUpToDate() bool { return s.upToDate }
func (s *IncrementalStats[T]) Invalidate()      { s.upToDate = false }

func (s *IncrementalStats[T]) cellChanged(old, v T) {
	if !s.upToDate {
		return
	}
	noData := s.g.noData
	if !sameValue(old, noData) {
		if sameValue(old, s.sum.Min) || sameValue(old, s.sum.Max) {
			s.upToDate = false
			return
		}
		s.sum.N--
		s.sum.Sum -= float64(old)
	}
	if !sameValue(v, noData) {
		s.sum.add(v)
	}
	if s.sum.N == 0 {
		s.sum = emptySummary(noData)
	}
}
