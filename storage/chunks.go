package storage

import (
	bolt "go.etcd.io/bbolt"

	"github.com/scille/parsec-core/ids"
)

// GetChunk returns the raw bytes of a dirty chunk. Chunks are never
// evicted (§4.1): they represent data the server does not yet have.
func (s *Store) GetChunk(id ids.ChunkID) ([]byte, error) {
	var data []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketChunks).Get(chunkKey(id))
		if v == nil {
			return ErrBlockMissing
		}

		data = append([]byte(nil), v...)

		return nil
	})

	return data, wrapErrBlock(err)
}

// SetChunk stores (or replaces) the raw bytes for a dirty chunk id.
func (s *Store) SetChunk(id ids.ChunkID, data []byte) error {
	return wrapErr("set chunk", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Put(chunkKey(id), data)
	}))
}

// ClearChunk removes a chunk's raw bytes, once it has been folded into a
// reshaped block and is no longer referenced by any slot.
func (s *Store) ClearChunk(id ids.ChunkID) error {
	return wrapErr("clear chunk", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketChunks).Delete(chunkKey(id))
	}))
}

func chunkKey(id ids.ChunkID) []byte {
	return []byte(id.String())
}
