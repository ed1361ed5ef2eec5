package grids

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Dimensions place a grid in space. Cells are square, CellSize on a side;
// row 0 is the row nearest YMin and column 0 the column nearest XMin.
// Decimal arithmetic keeps coordinates such as 0.1 exact.
type Dimensions struct {
	XMin, YMin decimal.Decimal
	XMax, YMax decimal.Decimal
	CellSize   decimal.Decimal
}

// NewDimensions returns the dimensions of an nrows x ncols grid with its
// lower-left corner at (xmin, ymin).
func NewDimensions(xmin, ymin, cellSize decimal.Decimal, nrows, ncols int64) Dimensions {
	return Dimensions{
		XMin:     xmin,
		YMin:     ymin,
		XMax:     xmin.Add(cellSize.Mul(decimal.New(ncols, 0))),
		YMax:     ymin.Add(cellSize.Mul(decimal.New(nrows, 0))),
		CellSize: cellSize,
	}
}

// UnitDimensions are the dimensions of a grid of 1x1 cells at the origin.
func UnitDimensions(nrows, ncols int64) Dimensions {
	return NewDimensions(decimal.Zero, decimal.Zero, decimal.New(1, 0), nrows, ncols)
}

// Validate checks that the extent matches nrows x ncols cells.
func (d Dimensions) Validate(nrows, ncols int64) error {
	if d.CellSize.Sign() <= 0 {
		return fmt.Errorf("%w: cell size %s", ErrInvalidOptions, d.CellSize)
	}
	w := d.CellSize.Mul(decimal.New(ncols, 0))
	h := d.CellSize.Mul(decimal.New(nrows, 0))
	if !d.XMax.Sub(d.XMin).Equal(w) || !d.YMax.Sub(d.YMin).Equal(h) {
		return fmt.Errorf("%w: extent [%s,%s]x[%s,%s] doesn't fit %dx%d cells of %s",
			ErrInvalidOptions, d.XMin, d.XMax, d.YMin, d.YMax, nrows, ncols, d.CellSize)
	}
	return nil
}

// Window returns the dimensions of the nrows x ncols sub-grid whose first
// cell is (row, col).
func (d Dimensions) Window(row, col, nrows, ncols int64) Dimensions {
	return NewDimensions(
		d.XMin.Add(d.CellSize.Mul(decimal.New(col, 0))),
		d.YMin.Add(d.CellSize.Mul(decimal.New(row, 0))),
		d.CellSize, nrows, ncols)
}

var half = decimal.New(5, -1)

// CellCentroid returns the coordinates of the centre of cell (row, col).
func (d Dimensions) CellCentroid(row, col int64) (x, y decimal.Decimal) {
	x = d.XMin.Add(d.CellSize.Mul(decimal.New(col, 0).Add(half)))
	y = d.YMin.Add(d.CellSize.Mul(decimal.New(row, 0).Add(half)))
	return x, y
}

// ColForX returns the column containing x. The result is outside
// [0, ncols) when x is outside the grid.
func (d Dimensions) ColForX(x decimal.Decimal) int64 {
	return x.Sub(d.XMin).Div(d.CellSize).Floor().IntPart()
}

// RowForY returns the row containing y.
func (d Dimensions) RowForY(y decimal.Decimal) int64 {
	return y.Sub(d.YMin).Div(d.CellSize).Floor().IntPart()
}

func (d Dimensions) String() string {
	return fmt.Sprintf("x[%s,%s] y[%s,%s] cell %s", d.XMin, d.XMax, d.YMin, d.YMax, d.CellSize)
}

// dimensionsRecord is the persisted form of Dimensions.
type dimensionsRecord struct {
	XMin     string `msgpack:"xmin"`
	YMin     string `msgpack:"ymin"`
	XMax     string `msgpack:"xmax"`
	YMax     string `msgpack:"ymax"`
	CellSize string `msgpack:"cell"`
}

func (d Dimensions) record() dimensionsRecord {
	return dimensionsRecord{d.XMin.String(), d.YMin.String(), d.XMax.String(), d.YMax.String(), d.CellSize.String()}
}

func (r dimensionsRecord) dimensions() (Dimensions, error) {
	var d Dimensions
	var err error
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&d.XMin, r.XMin}, {&d.YMin, r.YMin}, {&d.XMax, r.XMax}, {&d.YMax, r.YMax}, {&d.CellSize, r.CellSize}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return Dimensions{}, fmt.Errorf("dimensions: %w", err)
		}
	}
	return d, nil
}
