package grids

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLowMemory signals that an allocation would exceed the memory the
	// Manager is allowed to use. It is recoverable: the Manager evicts chunks
	// and retries the operation.
	ErrLowMemory = errors.New("low memory")

	// ErrNoEvictableChunk is the terminal form of ErrLowMemory: nothing else
	// could be swapped out, so no forward progress is possible.
	ErrNoEvictableChunk = fmt.Errorf("no chunk could be evicted: %w", ErrLowMemory)

	ErrChunkTooLarge  = errors.New("chunk too large for representation")
	ErrClosed         = errors.New("grid closed")
	ErrNotFound       = errors.New("not found")
	ErrInvalidOptions = errors.New("invalid options")
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// ChunkError describes a failure tied to a particular chunk of a grid.
type ChunkError struct {
	Grid  string
	Chunk ChunkID
	Kind  Kind
	Msg   string
	Err   error
}

func chunkErrf(grid string, id ChunkID, kind Kind, err error, format string, args ...any) error {
	return &ChunkError{grid, id, kind, fmt.Sprintf(format, args...), err}
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}

func (e *ChunkError) Error() string {
	var buf strings.Builder
	buf.WriteString(e.Grid)
	buf.WriteByte('/')
	buf.WriteString(e.Chunk.String())
	if e.Kind != KindUnknown {
		buf.WriteByte('[')
		buf.WriteString(e.Kind.String())
		buf.WriteByte(']')
	}
	if e.Msg != "" {
		buf.WriteString(": ")
		buf.WriteString(e.Msg)
		if e.Err != nil {
			buf.WriteString(": ")
			buf.WriteString(e.Err.Error())
		}
	} else if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

// IsLowMemory reports whether err is a recoverable low-memory signal (as
// opposed to the terminal ErrNoEvictableChunk).
func IsLowMemory(err error) bool {
	return errors.Is(err, ErrLowMemory) && !errors.Is(err, ErrNoEvictableChunk)
}
