package grids

import "iter"

// Cursor enumerates cell values. Call Next before reading Value; a finished
// cursor stays finished, so re-scanning needs a fresh cursor. Close releases
// any file handles and is safe to call more than once.
type Cursor[T Number] interface {
	Next() bool
	Value() T
	Close() error
}

// Values adapts a cursor to a range-over-func sequence, closing it once the
// sequence stops.
func Values[T Number](c Cursor[T]) iter.Seq[T] {
	return func(yield func(T) bool) {
		defer c.Close()
		for c.Next() {
			if !yield(c.Value()) {
				return
			}
		}
	}
}

// Collect drains a cursor into a slice.
func Collect[T Number](c Cursor[T]) []T {
	var result []T
	for v := range Values(c) {
		result = append(result, v)
	}
	return result
}

type sliceCursor[T Number] struct {
	data []T
	i    int
	v    T
}

func newSliceCursor[T Number](data []T) *sliceCursor[T] {
	return &sliceCursor[T]{data: data}
}

func (c *sliceCursor[T]) Next() bool {
	if c.i >= len(c.data) {
		return false
	}
	c.v = c.data[c.i]
	c.i++
	return true
}

func (c *sliceCursor[T]) Value() T     { return c.v }
func (c *sliceCursor[T]) Close() error { c.i = len(c.data); return nil }

// valueRun is a value repeated count times.
type valueRun[T Number] struct {
	value T
	count int64
}

// runCursor emits each run's value exactly count times before moving on.
// The map-based representations iterate this way.
type runCursor[T Number] struct {
	runs []valueRun[T]
	ri   int
	left int64
	v    T
}

func newRunCursor[T Number](runs []valueRun[T]) *runCursor[T] {
	c := &runCursor[T]{runs: runs, ri: -1}
	return c
}

func (c *runCursor[T]) Next() bool {
	for c.left == 0 {
		c.ri++
		if c.ri >= len(c.runs) {
			c.ri = len(c.runs)
			return false
		}
		c.v = c.runs[c.ri].value
		c.left = c.runs[c.ri].count
	}
	c.left--
	return true
}

func (c *runCursor[T]) Value() T { return c.v }

func (c *runCursor[T]) Close() error {
	c.ri, c.left = len(c.runs), 0
	return nil
}

type emptyCursor[T Number] struct{}

func (emptyCursor[T]) Next() bool   { return false }
func (emptyCursor[T]) Value() T     { var zero T; return zero }
func (emptyCursor[T]) Close() error { return nil }
