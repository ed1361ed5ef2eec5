package grids

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

type memSwapStore struct {
	mu     sync.Mutex
	chunks map[string]map[ChunkID][]byte
	meta   map[string][]byte
	closed bool
}

// newMemSwapStore returns a transient in-memory swap store. It is used when
// no swap path is configured, and by tests.
func newMemSwapStore() swapStore {
	return &memSwapStore{
		chunks: make(map[string]map[ChunkID][]byte),
		meta:   make(map[string][]byte),
	}
}

func (s *memSwapStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("swap store closed")
	}
	return nil
}

func (s *memSwapStore) Put(grid string, id ChunkID, rec []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	m := s.chunks[grid]
	if m == nil {
		m = make(map[ChunkID][]byte)
		s.chunks[grid] = m
	}
	m[id] = slices.Clone(rec)
	return nil
}

func (s *memSwapStore) Get(grid string, id ChunkID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	v, ok := s.chunks[grid][id]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *memSwapStore) Delete(grid string, id ChunkID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.chunks[grid], id)
	return nil
}

func (s *memSwapStore) PutMeta(grid string, meta []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.meta[grid] = slices.Clone(meta)
	return nil
}

func (s *memSwapStore) Meta(grid string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	v, ok := s.meta[grid]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *memSwapStore) DropGrid(grid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	delete(s.chunks, grid)
	delete(s.meta, grid)
	return nil
}

func (s *memSwapStore) Grids() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(s.meta))
	for k := range s.meta {
		names = append(names, k)
	}
	slices.Sort(names)
	return names, nil
}

func (s *memSwapStore) Records(grid string) ([]ChunkID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return slices.SortedFunc(maps.Keys(s.chunks[grid]), ChunkID.Compare), nil
}

func (s *memSwapStore) Stats(grid string) (swapStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return swapStats{}, err
	}
	var st swapStats
	for _, v := range s.chunks[grid] {
		st.Records++
		st.DataBytes += int64(len(v))
	}
	st.Alloc = st.DataBytes
	return st, nil
}

func (s *memSwapStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.chunks = nil
	s.meta = nil
	return nil
}
