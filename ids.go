package grids

import (
	"cmp"
	"encoding/binary"
	"fmt"
)

// RowCol addresses a cell within a chunk.
type RowCol struct {
	Row int32
	Col int32
}

func (rc RowCol) Compare(o RowCol) int {
	if c := cmp.Compare(rc.Row, o.Row); c != 0 {
		return c
	}
	return cmp.Compare(rc.Col, o.Col)
}

func (rc RowCol) String() string {
	return fmt.Sprintf("(%d,%d)", rc.Row, rc.Col)
}

// ChunkID addresses a chunk within the chunk grid of a Grid.
type ChunkID struct {
	Row int32
	Col int32
}

func (id ChunkID) Compare(o ChunkID) int {
	if c := cmp.Compare(id.Row, o.Row); c != 0 {
		return c
	}
	return cmp.Compare(id.Col, o.Col)
}

func (id ChunkID) String() string {
	return fmt.Sprintf("chunk(%d,%d)", id.Row, id.Col)
}

// Key returns an 8-byte key that sorts the same way Compare does.
func (id ChunkID) Key() []byte {
	var buf [8]byte
	binary.BigEndian.PutUint32(buf[0:], uint32(id.Row)^0x80000000)
	binary.BigEndian.PutUint32(buf[4:], uint32(id.Col)^0x80000000)
	return buf[:]
}

func chunkIDFromKey(k []byte) (ChunkID, error) {
	if len(k) != 8 {
		return ChunkID{}, dataErrf(k, 0, nil, "invalid chunk key length")
	}
	return ChunkID{
		Row: int32(binary.BigEndian.Uint32(k[0:]) ^ 0x80000000),
		Col: int32(binary.BigEndian.Uint32(k[4:]) ^ 0x80000000),
	}, nil
}

// CellID addresses a cell within a whole Grid. Grids can exceed 2^31 rows,
// hence the wider coordinates.
type CellID struct {
	Row int64
	Col int64
}

func (id CellID) Compare(o CellID) int {
	if c := cmp.Compare(id.Row, o.Row); c != 0 {
		return c
	}
	return cmp.Compare(id.Col, o.Col)
}

func (id CellID) String() string {
	return fmt.Sprintf("cell(%d,%d)", id.Row, id.Col)
}
