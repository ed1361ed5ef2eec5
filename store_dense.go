package grids

import (
	"fmt"
	"unsafe"
)

// denseStore keeps every cell in a row-major slice.
type denseStore[T Number] struct {
	shape[T]
	data []T
}

func newDenseStore[T Number](sh shape[T]) *denseStore[T] {
	return &denseStore[T]{shape: sh}
}

func (s *denseStore[T]) kind() Kind { return KindDense }

func (s *denseStore[T]) get(row, col int32) (T, error) {
	return s.data[s.index(row, col)], nil
}

func (s *denseStore[T]) set(row, col int32, v T) (T, error) {
	i := s.index(row, col)
	old := s.data[i]
	s.data[i] = v
	return old, nil
}

func (s *denseStore[T]) init(row, col int32, v T) error {
	s.data[s.index(row, col)] = v
	return nil
}

func (s *denseStore[T]) prepare() error    { return s.alloc() }
func (s *denseStore[T]) finishInit() error { return nil }

func (s *denseStore[T]) alloc() error {
	s.data = make([]T, s.cells())
	if s.noData != 0 {
		for i := range s.data {
			s.data[i] = s.noData
		}
	}
	return nil
}

func (s *denseStore[T]) release() error { s.data = nil; return nil }
func (s *denseStore[T]) destroy() error { return s.release() }

func (s *denseStore[T]) growth(T) int64 { return 0 }

func (s *denseStore[T]) allocSize() int64 {
	var zero T
	return int64(s.cells()) * int64(unsafe.Sizeof(zero))
}

func (s *denseStore[T]) memSize() int64 {
	if s.data == nil {
		return 0
	}
	return s.allocSize()
}

func (s *denseStore[T]) cursor() (Cursor[T], error) {
	return newSliceCursor(s.data), nil
}

func (s *denseStore[T]) counts() map[T]int64 {
	vc := make(valueCounts[T])
	for _, v := range s.data {
		vc.add(v, 1)
	}
	return vc.result()
}

// marshal writes the cells as raw big-endian records, the same layout a
// file-backed chunk uses.
func (s *denseStore[T]) marshal() ([]byte, error) {
	w := recordWidth[T]()
	buf := make([]byte, len(s.data)*w)
	for i, v := range s.data {
		putRecord(buf[i*w:], v)
	}
	return buf, nil
}

func (s *denseStore[T]) unmarshal(payload []byte) error {
	w := recordWidth[T]()
	if len(payload) != s.cells()*w {
		return fmt.Errorf("dense payload is %d bytes, wanted %d", len(payload), s.cells()*w)
	}
	s.data = make([]T, s.cells())
	for i := range s.data {
		s.data[i] = readRecord[T](payload[i*w:])
	}
	return nil
}
