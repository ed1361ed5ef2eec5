package grids

import (
	"fmt"
	"time"
	"unsafe"

	"go.etcd.io/bbolt"
)

var (
	chunksBucket = []byte("chunks")
	metaBucket   = []byte("meta")
)

type boltSwapStore struct {
	bdb *bbolt.DB
}

func openBoltSwapStore(path string, testing bool) (swapStore, error) {
	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if testing {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.FreelistType = bbolt.FreelistMapType
	}

	bdb, err := bbolt.Open(path, 0666, bopt)
	if err != nil {
		return nil, fmt.Errorf("swap store: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		if _, err := btx.CreateBucketIfNotExists(chunksBucket); err != nil {
			return err
		}
		_, err := btx.CreateBucketIfNotExists(metaBucket)
		return err
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("swap store: %w", err)
	}
	return &boltSwapStore{bdb: bdb}, nil
}

func (s *boltSwapStore) gridBucket(btx *bbolt.Tx, grid string, create bool) (*bbolt.Bucket, error) {
	root := btx.Bucket(chunksBucket)
	if create {
		return root.CreateBucketIfNotExists(unsafeBytesFromString(grid))
	}
	return root.Bucket(unsafeBytesFromString(grid)), nil
}

func (s *boltSwapStore) Put(grid string, id ChunkID, rec []byte) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := s.gridBucket(btx, grid, true)
		if err != nil {
			return err
		}
		return b.Put(id.Key(), rec)
	})
}

func (s *boltSwapStore) Get(grid string, id ChunkID) ([]byte, error) {
	var result []byte
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		b, _ := s.gridBucket(btx, grid, false)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(id.Key())
		if v == nil {
			return ErrNotFound
		}
		result = append([]byte(nil), v...)
		return nil
	})
	return result, err
}

func (s *boltSwapStore) Delete(grid string, id ChunkID) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		b, _ := s.gridBucket(btx, grid, false)
		if b == nil {
			return nil
		}
		return b.Delete(id.Key())
	})
}

func (s *boltSwapStore) PutMeta(grid string, meta []byte) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(metaBucket).Put([]byte(grid), meta)
	})
}

func (s *boltSwapStore) Meta(grid string) ([]byte, error) {
	var result []byte
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		v := btx.Bucket(metaBucket).Get(unsafeBytesFromString(grid))
		if v == nil {
			return ErrNotFound
		}
		result = append([]byte(nil), v...)
		return nil
	})
	return result, err
}

func (s *boltSwapStore) DropGrid(grid string) error {
	return s.bdb.Update(func(btx *bbolt.Tx) error {
		err := btx.Bucket(chunksBucket).DeleteBucket([]byte(grid))
		if err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		return btx.Bucket(metaBucket).Delete([]byte(grid))
	})
}

func (s *boltSwapStore) Grids() ([]string, error) {
	var names []string
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		return btx.Bucket(metaBucket).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

func (s *boltSwapStore) Records(grid string) ([]ChunkID, error) {
	var ids []ChunkID
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		b, _ := s.gridBucket(btx, grid, false)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			id, err := chunkIDFromKey(k)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

func (s *boltSwapStore) Stats(grid string) (swapStats, error) {
	var result swapStats
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		b, _ := s.gridBucket(btx, grid, false)
		if b == nil {
			return nil
		}
		bs := b.Stats()
		result = swapStats{
			Records:   bs.KeyN,
			DataBytes: int64(bs.LeafInuse),
			Alloc:     int64(bs.BranchAlloc + bs.LeafAlloc),
		}
		return nil
	})
	return result, err
}

func (s *boltSwapStore) Close() error {
	return s.bdb.Close()
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
