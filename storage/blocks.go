package storage

import (
	"encoding/binary"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/scille/parsec-core/ids"
)

// BlockState is the three-way state a block id may be in locally (§4.1).
type BlockState int

const (
	// BlockStateMissing means the block is cached under no state.
	BlockStateMissing BlockState = iota
	// BlockStateClean means the block was uploaded, digest-verified, and is
	// LRU-evictable.
	BlockStateClean
	// BlockStateDirty means the block has not yet been uploaded.
	BlockStateDirty
)

// GetBlock returns the plaintext content of id and its current state.
func (s *Store) GetBlock(id ids.BlockID) ([]byte, BlockState, error) {
	var (
		data  []byte
		state BlockState
	)

	err := s.db.Update(func(tx *bolt.Tx) error {
		key := blockKey(id)

		if v := tx.Bucket(bucketBlocksDirty).Get(key); v != nil {
			data = append([]byte(nil), v...)
			state = BlockStateDirty

			return nil
		}

		if v := tx.Bucket(bucketBlocksClean).Get(key); v != nil {
			data = append([]byte(nil), v...)
			state = BlockStateClean

			return touchLRU(tx, key)
		}

		return ErrBlockMissing
	})
	if err != nil {
		return nil, BlockStateMissing, wrapErrBlock(err)
	}

	return data, state, nil
}

// SetCleanBlock records id as a clean, uploaded block. It stores data as
// given and performs no digest check of its own: the digest is checked
// before this call (RemoteLoader.LoadBlock verifies downloaded blocks), and
// reads of a cached clean block are not re-hashed.
func (s *Store) SetCleanBlock(id ids.BlockID, data []byte) error {
	return wrapErr("set clean block", s.db.Update(func(tx *bolt.Tx) error {
		key := blockKey(id)

		if err := tx.Bucket(bucketBlocksDirty).Delete(key); err != nil {
			return err
		}

		if err := tx.Bucket(bucketBlocksClean).Put(key, data); err != nil {
			return err
		}

		return touchLRU(tx, key)
	}))
}

// SetDirtyBlock records id as dirty (unuploaded) content.
func (s *Store) SetDirtyBlock(id ids.BlockID, data []byte) error {
	return wrapErr("set dirty block", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocksDirty).Put(blockKey(id), data)
	}))
}

// ClearBlock removes id from both the clean and dirty caches.
func (s *Store) ClearBlock(id ids.BlockID) error {
	return wrapErr("clear block", s.db.Update(func(tx *bolt.Tx) error {
		key := blockKey(id)
		if err := tx.Bucket(bucketBlocksDirty).Delete(key); err != nil {
			return err
		}

		if err := tx.Bucket(bucketBlocksClean).Delete(key); err != nil {
			return err
		}

		return tx.Bucket(bucketCleanLRU).Delete(key)
	}))
}

// IsDirtyBlock reports whether id is currently cached as dirty.
func (s *Store) IsDirtyBlock(id ids.BlockID) (bool, error) {
	var dirty bool

	err := s.db.View(func(tx *bolt.Tx) error {
		dirty = tx.Bucket(bucketBlocksDirty).Get(blockKey(id)) != nil
		return nil
	})

	return dirty, wrapErr("is dirty block", err)
}

// EvictCleanBlocks evicts least-recently-used clean blocks until the clean
// cache's total size is at or below s.maxCleanBytes. A MaxCleanBytes of 0
// disables eviction (unbounded cache), matching the teacher's own opt-in
// disk cache size limit.
func (s *Store) EvictCleanBlocks() error {
	if s.maxCleanBytes <= 0 {
		return nil
	}

	return wrapErr("evict clean blocks", s.db.Update(func(tx *bolt.Tx) error {
		clean := tx.Bucket(bucketBlocksClean)
		lru := tx.Bucket(bucketCleanLRU)

		type entry struct {
			key       []byte
			size      int64
			lastUsed  uint64
		}

		var (
			entries []entry
			total   int64
		)

		c := clean.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			ts := lru.Get(k)

			var lastUsed uint64
			if len(ts) == 8 {
				lastUsed = binary.BigEndian.Uint64(ts)
			}

			entries = append(entries, entry{key: append([]byte(nil), k...), size: int64(len(v)), lastUsed: lastUsed})
			total += int64(len(v))
		}

		if total <= s.maxCleanBytes {
			return nil
		}

		sort.Slice(entries, func(i, j int) bool { return entries[i].lastUsed < entries[j].lastUsed })

		for _, e := range entries {
			if total <= s.maxCleanBytes {
				break
			}

			if err := clean.Delete(e.key); err != nil {
				return err
			}

			if err := lru.Delete(e.key); err != nil {
				return err
			}

			total -= e.size
		}

		return nil
	}))
}

func touchLRU(tx *bolt.Tx, key []byte) error {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], monotonicCounter())

	return tx.Bucket(bucketCleanLRU).Put(key, ts[:])
}

// monotonicCounter provides a strictly increasing LRU ordering key without
// relying on wall-clock time (successive calls within the same process are
// always increasing, which is all LRU ordering needs).
var lruCounter uint64

func monotonicCounter() uint64 {
	lruCounter++
	return lruCounter
}

func blockKey(id ids.BlockID) []byte {
	return []byte(id.String())
}

func wrapErrBlock(err error) error {
	if err == ErrBlockMissing {
		return err
	}

	return wrapErr("get block", err)
}
