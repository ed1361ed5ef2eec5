package grids

import (
	"fmt"
)

// NewWindow creates a grid holding a copy of the nrows x ncols block of src
// whose first cell is (row, col). NRows, NCols and Dimensions of opt are
// derived from the window. Cells holding the no-data value of src get the
// no-data value of the new grid.
//
// When the window is aligned with the chunks of src and the chunk sizes
// match, chunks are converted whole, which for file-backed chunks is a
// direct file copy.
func NewWindow[T Number](mgr *Manager, src *Grid[T], row, col, nrows, ncols int64, opt GridOptions[T]) (*Grid[T], error) {
	if src.closed {
		return nil, ErrClosed
	}
	if row < 0 || col < 0 || nrows <= 0 || ncols <= 0 || row+nrows > src.nrows || col+ncols > src.ncols {
		return nil, fmt.Errorf("%w: window (%d,%d)+%dx%d outside %s", ErrInvalidOptions, row, col, nrows, ncols, src)
	}
	opt.NRows, opt.NCols = nrows, ncols
	dims := src.dims.Window(row, col, nrows, ncols)
	opt.Dimensions = &dims

	g, err := New(mgr, opt)
	if err != nil {
		return nil, err
	}
	if err := g.copyWindow(src, row, col); err != nil {
		g.discard()
		return nil, err
	}
	g.stats.Invalidate()
	return g, nil
}

func (g *Grid[T]) copyWindow(src *Grid[T], row, col int64) error {
	aligned := g.chunkNRows == src.chunkNRows && g.chunkNCols == src.chunkNCols &&
		row%int64(src.chunkNRows) == 0 && col%int64(src.chunkNCols) == 0

	for _, id := range g.ids {
		dst := g.chunks[id]
		first := g.CellOf(id, RowCol{})
		if aligned {
			srcID, _, _ := src.Resolve(row+first.Row, col+first.Col)
			if err := Convert(dst, src.chunks[srcID]); err != nil {
				return err
			}
			continue
		}
		for r := int32(0); r < dst.NRows(); r++ {
			for c := int32(0); c < dst.NCols(); c++ {
				v := src.Cell(row+first.Row+int64(r), col+first.Col+int64(c))
				if sameValue(v, src.noData) {
					continue
				}
				dst.SetCell(r, c, v)
			}
		}
		if err := src.Err(); err != nil {
			return err
		}
		if err := g.Err(); err != nil {
			return err
		}
	}
	return nil
}
