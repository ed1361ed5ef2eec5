package grids

import (
	"fmt"
	"strings"
)

// Kind identifies a chunk representation.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindDense stores every cell in a row-major slice.
	KindDense
	// KindPacked maps each distinct value to a 64-bit cell mask. Chunks are
	// limited to 64 cells.
	KindPacked
	// KindSparse maps each distinct value to a bitmap of cell indices;
	// no-data cells are not stored at all.
	KindSparse
	// KindFile keeps the cells in a file of fixed-width records.
	KindFile
	// KindTiled keeps the cells in a memory-mapped tiled raster.
	KindTiled
)

// MaxPackedCells is the largest chunk a KindPacked representation can hold.
const MaxPackedCells = 64

var kindNames = [...]string{
	KindUnknown: "unknown",
	KindDense:   "dense",
	KindPacked:  "packed",
	KindSparse:  "sparse",
	KindFile:    "file",
	KindTiled:   "tiled",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// HasOwnMirror reports whether the representation's payload already lives
// on disk, so swapping it out never needs a side copy.
func (k Kind) HasOwnMirror() bool {
	return k == KindFile || k == KindTiled
}

func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if k != int(KindUnknown) && name == s {
			return Kind(k), nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown chunk kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
