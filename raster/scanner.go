package raster

import "image"

// Scanner walks the samples of one band tile by tile, and row-major within
// each tile. Padding past the image edge is skipped.
type Scanner struct {
	t    *Tiled
	band int
	tile int
	r    image.Rectangle
	x, y int
	v    float64
}

func (t *Tiled) Scan(band int) *Scanner {
	return &Scanner{t: t, band: band, tile: -1}
}

func (s *Scanner) Next() bool {
	for {
		if s.tile >= 0 {
			s.x++
			if s.x >= s.r.Max.X {
				s.x = s.r.Min.X
				s.y++
			}
			if s.y < s.r.Max.Y {
				s.v = s.t.Sample(s.x, s.y, s.band)
				return true
			}
		}
		s.tile++
		if s.tile >= s.t.NumTiles() || s.t.data == nil {
			s.tile = s.t.NumTiles()
			return false
		}
		s.r = s.t.TileBounds(s.tile)
		s.x, s.y = s.r.Min.X-1, s.r.Min.Y
	}
}

// Point returns the pixel of the current sample.
func (s *Scanner) Point() image.Point { return image.Pt(s.x, s.y) }

func (s *Scanner) Value() float64 { return s.v }
