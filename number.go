package grids

import (
	"encoding/binary"
	"math"
)

// Number is the set of cell value types a grid can hold.
type Number interface {
	float64 | int32
}

func recordWidth[T Number]() int {
	var zero T
	switch any(zero).(type) {
	case float64:
		return 8
	default:
		return 4
	}
}

// valueKey maps a value to a comparable key; float64 holds every int32
// exactly, and going through the bits keeps NaN usable as a key.
func valueKey[T Number](v T) uint64 {
	f := float64(v)
	if f != f {
		return canonicalNaN
	}
	return math.Float64bits(f)
}

var canonicalNaN = math.Float64bits(math.NaN())

// valueCounts tallies cells per distinct value, merging every NaN into a
// single entry.
type valueCounts[T Number] map[uint64]valueRun[T]

func (vc valueCounts[T]) add(v T, n int64) {
	k := valueKey(v)
	r := vc[k]
	r.value = v
	r.count += n
	vc[k] = r
}

func (vc valueCounts[T]) result() map[T]int64 {
	m := make(map[T]int64, len(vc))
	for _, r := range vc {
		m[r.value] += r.count
	}
	return m
}

func putRecord[T Number](b []byte, v T) {
	switch x := any(v).(type) {
	case float64:
		binary.BigEndian.PutUint64(b, math.Float64bits(x))
	case int32:
		binary.BigEndian.PutUint32(b, uint32(x))
	}
}

func readRecord[T Number](b []byte) T {
	var zero T
	switch any(zero).(type) {
	case float64:
		return T(math.Float64frombits(binary.BigEndian.Uint64(b)))
	default:
		return T(int32(binary.BigEndian.Uint32(b)))
	}
}

func sameValue[T Number](a, b T) bool {
	return valueKey(a) == valueKey(b)
}

func isFloat[T Number]() bool {
	var zero T
	_, ok := any(zero).(float64)
	return ok
}
