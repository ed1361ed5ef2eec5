package grids

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"
)

// sparseStore maps each distinct value to a compressed bitmap of the
// linear indices of the cells holding it. No-data cells are implicit: a
// cell absent from every bitmap holds the no-data value.
type sparseStore[T Number] struct {
	shape[T]
	sets map[uint64]*sparseSet[T]
}

type sparseSet[T Number] struct {
	value T
	cells *roaring.Bitmap
}

type sparseSetRecord[T Number] struct {
	Value T      `msgpack:"v"`
	Cells []byte `msgpack:"c"`
}

// sparseSetOverhead approximates the map entry and struct around a bitmap.
const sparseSetOverhead = 64

func newSparseStore[T Number](sh shape[T]) *sparseStore[T] {
	return &sparseStore[T]{shape: sh}
}

func (s *sparseStore[T]) kind() Kind { return KindSparse }

func (s *sparseStore[T]) locate(i uint32) *sparseSet[T] {
	for _, set := range s.sets {
		if set.cells.Contains(i) {
			return set
		}
	}
	return nil
}

func (s *sparseStore[T]) get(row, col int32) (T, error) {
	if set := s.locate(uint32(s.index(row, col))); set != nil {
		return set.value, nil
	}
	return s.noData, nil
}

func (s *sparseStore[T]) set(row, col int32, v T) (T, error) {
	i := uint32(s.index(row, col))
	old := s.noData
	if set := s.locate(i); set != nil {
		old = set.value
		if sameValue(old, v) {
			return old, nil
		}
		set.cells.Remove(i)
		if set.cells.IsEmpty() {
			delete(s.sets, valueKey(old))
		}
	}
	if sameValue(v, s.noData) {
		return old, nil
	}
	k := valueKey(v)
	set := s.sets[k]
	if set == nil {
		set = &sparseSet[T]{value: v, cells: roaring.New()}
		s.sets[k] = set
	}
	set.cells.Add(i)
	return old, nil
}

func (s *sparseStore[T]) init(row, col int32, v T) error {
	_, err := s.set(row, col, v)
	return err
}

func (s *sparseStore[T]) prepare() error { return s.alloc() }

func (s *sparseStore[T]) finishInit() error {
	for _, set := range s.sets {
		set.cells.RunOptimize()
	}
	return nil
}

func (s *sparseStore[T]) alloc() error {
	s.sets = make(map[uint64]*sparseSet[T])
	return nil
}

func (s *sparseStore[T]) release() error { s.sets = nil; return nil }
func (s *sparseStore[T]) destroy() error { return s.release() }

func (s *sparseStore[T]) growth(v T) int64 {
	if sameValue(v, s.noData) {
		return 0
	}
	if _, ok := s.sets[valueKey(v)]; ok {
		return 0
	}
	return sparseSetOverhead
}

func (s *sparseStore[T]) allocSize() int64 { return sparseSetOverhead }

func (s *sparseStore[T]) memSize() int64 {
	if s.sets == nil {
		return 0
	}
	n := int64(sparseSetOverhead)
	for _, set := range s.sets {
		n += sparseSetOverhead + int64(set.cells.GetSizeInBytes())
	}
	return n
}

func (s *sparseStore[T]) sortedSets() []*sparseSet[T] {
	sets := make([]*sparseSet[T], 0, len(s.sets))
	for _, set := range s.sets {
		sets = append(sets, set)
	}
	slices.SortFunc(sets, func(a, b *sparseSet[T]) int {
		return cmp.Compare(a.value, b.value)
	})
	return sets
}

// runs lists the stored values in ascending order followed by the implicit
// no-data run.
func (s *sparseStore[T]) runs() []valueRun[T] {
	runs := make([]valueRun[T], 0, len(s.sets)+1)
	stored := int64(0)
	for _, set := range s.sortedSets() {
		n := int64(set.cells.GetCardinality())
		stored += n
		runs = append(runs, valueRun[T]{value: set.value, count: n})
	}
	runs = append(runs, valueRun[T]{value: s.noData, count: int64(s.cells()) - stored})
	return runs
}

func (s *sparseStore[T]) cursor() (Cursor[T], error) {
	return newRunCursor(s.runs()), nil
}

func (s *sparseStore[T]) counts() map[T]int64 {
	vc := make(valueCounts[T], len(s.sets)+1)
	for _, r := range s.runs() {
		if r.count > 0 {
			vc.add(r.value, r.count)
		}
	}
	return vc.result()
}

func (s *sparseStore[T]) marshal() ([]byte, error) {
	recs := make([]sparseSetRecord[T], 0, len(s.sets))
	for _, set := range s.sortedSets() {
		b, err := set.cells.ToBytes()
		if err != nil {
			return nil, err
		}
		recs = append(recs, sparseSetRecord[T]{Value: set.value, Cells: b})
	}
	return msgpackEncode(recs)
}

func (s *sparseStore[T]) unmarshal(payload []byte) error {
	var recs []sparseSetRecord[T]
	if err := msgpackDecode(payload, &recs); err != nil {
		return err
	}
	sets := make(map[uint64]*sparseSet[T], len(recs))
	limit := uint64(s.cells())
	for _, rec := range recs {
		bm := roaring.New()
		if err := bm.UnmarshalBinary(rec.Cells); err != nil {
			return fmt.Errorf("sparse payload for %v: %w", rec.Value, err)
		}
		if !bm.IsEmpty() && uint64(bm.Maximum()) >= limit {
			return fmt.Errorf("sparse payload for %v addresses cell %d of %d", rec.Value, bm.Maximum(), limit)
		}
		sets[valueKey(rec.Value)] = &sparseSet[T]{value: rec.Value, cells: bm}
	}
	s.sets = sets
	return nil
}
