package raster

import (
	"image"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiled_SetSampleAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img.tiles")
	opt := Options{Width: 7, Height: 5, TileWidth: 4, TileHeight: 4, Bands: 1, Type: Float64}

	img, err := Create(path, opt, -9999)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 7, 5), img.Bounds())
	assert.Equal(t, 4, img.NumTiles())
	assert.Equal(t, -9999.0, img.Sample(6, 4, 0))

	require.NoError(t, img.SetSample(6, 4, 0, 3.5))
	require.NoError(t, img.SetSample(0, 0, 0, 1.25))
	require.NoError(t, img.Sync())
	require.NoError(t, img.Close())

	ro, err := Open(path, false)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, opt, ro.Options())
	assert.Equal(t, 3.5, ro.Sample(6, 4, 0))
	assert.Equal(t, 1.25, ro.Sample(0, 0, 0))
	assert.Equal(t, -9999.0, ro.Sample(3, 3, 0))
	assert.True(t, math.IsNaN(ro.Sample(7, 0, 0)))
	assert.Error(t, ro.SetSample(1, 1, 0, 2))
}

func TestTiled_Int32Truncates(t *testing.T) {
	img, err := Create(filepath.Join(t.TempDir(), "i.tiles"), Options{Width: 3, Height: 3, TileWidth: 2, TileHeight: 2, Bands: 1, Type: Int32}, 0)
	require.NoError(t, err)
	defer img.Close()

	require.NoError(t, img.SetSample(2, 2, 0, -17))
	assert.Equal(t, -17.0, img.Sample(2, 2, 0))
	assert.Equal(t, 0.0, img.Sample(1, 1, 0))
	assert.Error(t, img.SetSample(3, 0, 0, 1))
}

func TestTiled_ScanVisitsEveryPixelOnce(t *testing.T) {
	img, err := Create(filepath.Join(t.TempDir(), "s.tiles"), Options{Width: 5, Height: 3, TileWidth: 2, TileHeight: 2, Bands: 1, Type: Float64}, 0)
	require.NoError(t, err)
	defer img.Close()

	for y := 0; y < 3; y++ {
		for x := 0; x < 5; x++ {
			require.NoError(t, img.SetSample(x, y, 0, float64(y*10+x)))
		}
	}

	seen := make(map[image.Point]bool)
	s := img.Scan(0)
	for s.Next() {
		p := s.Point()
		require.False(t, seen[p], "pixel %v visited twice", p)
		seen[p] = true
		assert.Equal(t, float64(p.Y*10+p.X), s.Value())
	}
	assert.Len(t, seen, 15)
	assert.False(t, s.Next())

	// first tile is 2x2 in the corner
	s = img.Scan(0)
	var first []image.Point
	for i := 0; i < 4 && s.Next(); i++ {
		first = append(first, s.Point())
	}
	assert.Equal(t, []image.Point{{0, 0}, {1, 0}, {0, 1}, {1, 1}}, first)
}

func TestOpen_RejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.tiles")
	img, err := Create(path, Options{Width: 1, Height: 1, TileWidth: 1, TileHeight: 1, Bands: 1, Type: Int32}, 0)
	require.NoError(t, err)
	copy(img.data, "NOTMAGIC")
	require.NoError(t, img.Close())

	_, err = Open(path, false)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestOptions_Validate(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "bad.tiles"), Options{Width: 1, Height: 1, TileWidth: 0, TileHeight: 1, Bands: 1, Type: Int32}, 0)
	assert.Error(t, err)
}
