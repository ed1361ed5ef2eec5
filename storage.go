package grids

// swapStore persists swapped-out chunk payloads and grid metadata. Records
// are keyed by grid name and ChunkID.
type swapStore interface {
	// Put stores a chunk record, replacing any previous one.
	Put(grid string, id ChunkID, rec []byte) error

	// Get returns a copy of the chunk record, or ErrNotFound.
	Get(grid string, id ChunkID) ([]byte, error)

	// Delete removes a chunk record. Deleting a missing record is not an error.
	Delete(grid string, id ChunkID) error

	// PutMeta stores the grid metadata document.
	PutMeta(grid string, meta []byte) error

	// Meta returns a copy of the grid metadata document, or ErrNotFound.
	Meta(grid string) ([]byte, error)

	// DropGrid removes all records and the metadata of a grid.
	DropGrid(grid string) error

	// Records lists the ids of the chunk records of a grid in key order.
	Records(grid string) ([]ChunkID, error)

	// Grids lists the grids that have metadata stored, in name order.
	Grids() ([]string, error)

	// Stats returns storage statistics for the chunk records of a grid.
	// Backends that don't track allocation sizes may return zero values
	// except Records.
	Stats(grid string) (swapStats, error)

	// Close closes the store.
	Close() error
}

type swapStats struct {
	Records   int
	DataBytes int64
	Alloc     int64
}
