package grids

import (
	"fmt"
	"math/bits"
	"slices"
	"unsafe"
)

// packedStore maps each distinct value to a bitmask of the cells holding
// it. With at most 64 cells a mask fits in one word, so a near-constant
// chunk costs a single entry.
//
// Every cell belongs to exactly one entry; the masks partition fullMask.
type packedStore[T Number] struct {
	shape[T]
	entries []packedEntry[T]
}

type packedEntry[T Number] struct {
	Value T      `msgpack:"v"`
	Mask  uint64 `msgpack:"m"`
}

func newPackedStore[T Number](sh shape[T]) (*packedStore[T], error) {
	if sh.cells() > MaxPackedCells {
		return nil, fmt.Errorf("%w: %dx%d packed chunk exceeds %d cells", ErrChunkTooLarge, sh.nrows, sh.ncols, MaxPackedCells)
	}
	return &packedStore[T]{shape: sh}, nil
}

func (s *packedStore[T]) kind() Kind { return KindPacked }

func (s *packedStore[T]) fullMask() uint64 {
	n := s.cells()
	if n == 64 {
		return ^uint64(0)
	}
	return (uint64(1) << n) - 1
}

func (s *packedStore[T]) bit(row, col int32) uint64 {
	return uint64(1) << s.index(row, col)
}

func (s *packedStore[T]) find(v T) int {
	for i, e := range s.entries {
		if sameValue(e.Value, v) {
			return i
		}
	}
	return -1
}

func (s *packedStore[T]) get(row, col int32) (T, error) {
	b := s.bit(row, col)
	for _, e := range s.entries {
		if e.Mask&b != 0 {
			return e.Value, nil
		}
	}
	return s.noData, nil
}

func (s *packedStore[T]) set(row, col int32, v T) (T, error) {
	b := s.bit(row, col)
	old := s.noData
	for i := range s.entries {
		e := &s.entries[i]
		if e.Mask&b == 0 {
			continue
		}
		old = e.Value
		if sameValue(old, v) {
			return old, nil
		}
		e.Mask &^= b
		if e.Mask == 0 {
			s.entries = slices.Delete(s.entries, i, i+1)
		}
		break
	}
	if i := s.find(v); i >= 0 {
		s.entries[i].Mask |= b
	} else {
		s.entries = append(s.entries, packedEntry[T]{Value: v, Mask: b})
	}
	return old, nil
}

func (s *packedStore[T]) init(row, col int32, v T) error {
	_, err := s.set(row, col, v)
	return err
}

func (s *packedStore[T]) prepare() error    { return s.alloc() }
func (s *packedStore[T]) finishInit() error { return nil }

func (s *packedStore[T]) alloc() error {
	s.entries = make([]packedEntry[T], 1, 2)
	s.entries[0] = packedEntry[T]{Value: s.noData, Mask: s.fullMask()}
	return nil
}

func (s *packedStore[T]) release() error { s.entries = nil; return nil }
func (s *packedStore[T]) destroy() error { return s.release() }

func (s *packedStore[T]) entrySize() int64 {
	var e packedEntry[T]
	return int64(unsafe.Sizeof(e))
}

func (s *packedStore[T]) growth(v T) int64 {
	if s.find(v) >= 0 {
		return 0
	}
	return s.entrySize()
}

func (s *packedStore[T]) allocSize() int64 { return 2 * s.entrySize() }

func (s *packedStore[T]) memSize() int64 {
	return int64(cap(s.entries)) * s.entrySize()
}

func (s *packedStore[T]) runs() []valueRun[T] {
	runs := make([]valueRun[T], 0, len(s.entries))
	for _, e := range s.entries {
		runs = append(runs, valueRun[T]{value: e.Value, count: int64(bits.OnesCount64(e.Mask))})
	}
	return runs
}

func (s *packedStore[T]) cursor() (Cursor[T], error) {
	return newRunCursor(s.runs()), nil
}

func (s *packedStore[T]) counts() map[T]int64 {
	vc := make(valueCounts[T], len(s.entries))
	for _, r := range s.runs() {
		vc.add(r.value, r.count)
	}
	return vc.result()
}

func (s *packedStore[T]) marshal() ([]byte, error) {
	return msgpackEncode(s.entries)
}

func (s *packedStore[T]) unmarshal(payload []byte) error {
	var entries []packedEntry[T]
	if err := msgpackDecode(payload, &entries); err != nil {
		return err
	}
	var seen uint64
	for _, e := range entries {
		if seen&e.Mask != 0 {
			return fmt.Errorf("packed payload has overlapping masks")
		}
		seen |= e.Mask
	}
	if seen != s.fullMask() {
		return fmt.Errorf("packed payload covers %d of %d cells", bits.OnesCount64(seen), s.cells())
	}
	s.entries = entries
	return nil
}
