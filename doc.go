/*
Package grids stores large 2D rasters that don't fit in memory.

A Grid is split into rectangular chunks. Each chunk keeps its values in one
of several representations:

1. Dense: a row-major slice, one value per cell.

2. Packed: a list of (value, 64-bit cell mask) pairs, for chunks of at most
64 cells whose values repeat a lot.

3. Sparse: value → compressed bitmap of cells, with no-data cells stored
implicitly. A good default when nothing is known about the data.

4. File: fixed-width big-endian records in a file of its own.

5. Tiled: a single-band tiled raster file, memory-mapped while in use.

Chunks of one grid can use different representations; ConvertChunk moves a
chunk between them.

# Memory

A Manager owns the memory budget of every grid registered with it. Each
resident chunk is charged for its payload. When a charge would exceed the
budget (or a MemoryMonitor reports the machine running low), the operation
fails with ErrLowMemory, the Manager swaps out the least recently used
chunks that the operation doesn't need, and the operation runs again; see
Retry. Only when nothing can be swapped out does the caller see an error,
ErrNoEvictableChunk.

Swapped-out chunks of the in-memory representations are written to a swap
store (a Bolt file, or memory for tests) as checksummed records. File and
tiled chunks are their own mirror and are simply flushed and closed.

# Addressing

Cell (row, col) of a grid lives in chunk (row / ChunkNRows, col / ChunkNCols)
at offset (row % ChunkNRows, col % ChunkNCols). Chunks on the bottom and
right edges are smaller when the grid size isn't a multiple of the chunk
size. Reads outside the grid return the no-data value.

# Iteration

Chunk and grid cursors visit every cell exactly once. The order within a
chunk depends on its representation: dense and file chunks go row by row,
packed and sparse chunks group equal values, and tiled chunks go tile by
tile.
*/
package grids
