package grids

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkID_Compare(t *testing.T) {
	ids := []ChunkID{{1, 0}, {0, 2}, {-1, 5}, {0, -3}, {1, -1}}
	slices.SortFunc(ids, ChunkID.Compare)
	assert.Equal(t, []ChunkID{{-1, 5}, {0, -3}, {0, 2}, {1, -1}, {1, 0}}, ids)
	assert.Zero(t, ChunkID{3, 4}.Compare(ChunkID{3, 4}))
}

func TestChunkID_KeyOrderMatchesCompare(t *testing.T) {
	ids := []ChunkID{{0, 0}, {0, 1}, {1, 0}, {-1, 7}, {2147483647, -2147483648}, {-2147483648, 0}, {5, -5}}
	for _, a := range ids {
		for _, b := range ids {
			if got, want := bytes.Compare(a.Key(), b.Key()), a.Compare(b); got != want {
				t.Errorf("** key order of %v vs %v = %d, wanted %d", a, b, got, want)
			}
		}
		back, err := chunkIDFromKey(a.Key())
		require.NoError(t, err)
		assert.Equal(t, a, back)
	}

	_, err := chunkIDFromKey([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRowCol_Compare(t *testing.T) {
	assert.Equal(t, -1, RowCol{0, 9}.Compare(RowCol{1, 0}))
	assert.Equal(t, 1, RowCol{2, 3}.Compare(RowCol{2, 1}))
	assert.Equal(t, "(2,3)", RowCol{2, 3}.String())
	assert.Equal(t, "chunk(5,7)", ChunkID{5, 7}.String())
	assert.Equal(t, "cell(55,73)", CellID{55, 73}.String())
	assert.Equal(t, -1, CellID{55, 73}.Compare(CellID{55, 74}))
}

func TestKind_ParseAndString(t *testing.T) {
	for _, k := range []Kind{KindDense, KindPacked, KindSparse, KindFile, KindTiled} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	k, err := ParseKind(" Sparse ")
	require.NoError(t, err)
	assert.Equal(t, KindSparse, k)

	_, err = ParseKind("unknown")
	assert.Error(t, err)
	_, err = ParseKind("rle")
	assert.Error(t, err)

	assert.Equal(t, "kind(42)", Kind(42).String())
	assert.True(t, KindFile.HasOwnMirror())
	assert.True(t, KindTiled.HasOwnMirror())
	assert.False(t, KindSparse.HasOwnMirror())
}

func TestKind_Text(t *testing.T) {
	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("packed")))
	assert.Equal(t, KindPacked, k)
	b, err := KindTiled.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "tiled", string(b))
}

func TestValueKey(t *testing.T) {
	assert.True(t, sameValue(-9999.0, -9999.0))
	assert.False(t, sameValue(0.0, -9999.0))
	assert.True(t, sameValue[int32](7, 7))

	buf := make([]byte, 8)
	putRecord(buf, 42.5)
	assert.Equal(t, 42.5, readRecord[float64](buf))
	putRecord(buf, int32(-3))
	assert.Equal(t, int32(-3), readRecord[int32](buf))
	assert.Equal(t, 8, recordWidth[float64]())
	assert.Equal(t, 4, recordWidth[int32]())
}
