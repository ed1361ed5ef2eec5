package grids

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDataError_ErrorAndUnwrap(t *testing.T) {
	t.Run("small data", func(t *testing.T) {
		inner := errors.New("inner")
		err := dataErrf([]byte{0xAA, 0xBB}, 1, inner, "oops")
		var de *DataError
		if !errors.As(err, &de) {
			t.Fatalf("err = %T, wanted *DataError", err)
		}
		if !errors.Is(err, inner) {
			t.Fatalf("errors.Is(err, inner) = false, wanted true")
		}
		s := err.Error()
		if !strings.Contains(s, "oops") || !strings.Contains(s, "inner") || !strings.Contains(s, "(2)") {
			t.Fatalf("err.Error() = %q, wanted message with oops/inner/(2)", s)
		}
	})

	t.Run("large data includes prefix+suffix", func(t *testing.T) {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(i)
		}
		s := dataErrf(data, 0, nil, "big").Error()
		if !strings.Contains(s, "(200)") || !strings.Contains(s, "...") {
			t.Fatalf("err.Error() = %q, wanted truncated dump", s)
		}
	})
}

func TestChunkError_ErrorAndUnwrap(t *testing.T) {
	err := chunkErrf("elev", ChunkID{5, 7}, KindFile, ErrNotFound, "reopen %s", "x.bin")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("errors.Is(err, ErrNotFound) = false, wanted true")
	}
	if got, want := err.Error(), "elev/chunk(5,7)[file]: reopen x.bin: not found"; got != want {
		t.Fatalf("err.Error() = %q, wanted %q", got, want)
	}

	err = chunkErrf("elev", ChunkID{0, 1}, KindUnknown, ErrClosed, "")
	if got, want := err.Error(), "elev/chunk(0,1): grid closed"; got != want {
		t.Fatalf("err.Error() = %q, wanted %q", got, want)
	}
}

func TestIsLowMemory(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrLowMemory, true},
		{fmt.Errorf("%w: 10 bytes", ErrLowMemory), true},
		{ErrNoEvictableChunk, false},
		{fmt.Errorf("%w: cause", ErrNoEvictableChunk), false},
		{ErrClosed, false},
	}
	for _, tt := range tests {
		if got := IsLowMemory(tt.err); got != tt.want {
			t.Errorf("IsLowMemory(%v) = %v, wanted %v", tt.err, got, tt.want)
		}
	}
	if !errors.Is(ErrNoEvictableChunk, ErrLowMemory) {
		t.Fatalf("ErrNoEvictableChunk should wrap ErrLowMemory")
	}
}
