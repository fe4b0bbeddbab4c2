package storage

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
)

var (
	bucketManifests     = []byte("manifests")      // entry id -> encoded Local manifest
	bucketBaseManifests = []byte("base_manifests")  // entry id -> encoded last-synced remote Manifest
	bucketBlocksClean   = []byte("blocks_clean")    // block id -> plaintext
	bucketBlocksDirty   = []byte("blocks_dirty")    // block id -> plaintext
	bucketChunks        = []byte("chunks")          // chunk id -> raw bytes
	bucketCleanLRU      = []byte("blocks_clean_lru") // block id -> last-access LRU counter
)

// Store is the per-device local storage: a single bbolt database file
// backing the manifest cache, block cache and chunk cache of §4.1.
type Store struct {
	db *bolt.DB

	maxCleanBytes int64

	locker *EntryLocker
}

// Options configures a Store.
type Options struct {
	// MaxCleanBytes bounds the clean block cache; 0 means unbounded.
	MaxCleanBytes int64
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, wrapErr("open", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketManifests, bucketBaseManifests, bucketBlocksClean, bucketBlocksDirty, bucketChunks, bucketCleanLRU} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close() //nolint:errcheck

		return nil, wrapErr("init buckets", err)
	}

	return &Store{db: db, maxCleanBytes: opts.MaxCleanBytes, locker: NewEntryLocker()}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return wrapErr("close", s.db.Close())
}

// GetManifest returns the cached local manifest for id, or ErrManifestMissing.
func (s *Store) GetManifest(id ids.EntryID) (manifest.Local, error) {
	var loc manifest.Local

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketManifests).Get(manifestKey(id))
		if raw == nil {
			return ErrManifestMissing
		}

		parsed, err := decodeLocal(raw)
		if err != nil {
			return err
		}

		loc = parsed

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrManifestMissing) {
			return manifest.Local{}, err
		}

		return manifest.Local{}, wrapErr("get manifest", err)
	}

	return loc, nil
}

// SetManifest atomically replaces the cached local manifest for id.
//
// bbolt's Update already fsyncs before returning, which is what §4.1
// requires when need_sync flips from true to false: the caller's view that
// "the server acknowledged this version" must survive a crash immediately
// after this call returns.
func (s *Store) SetManifest(id ids.EntryID, loc manifest.Local) error {
	if err := loc.Validate(); err != nil {
		return wrapErr("set manifest", err)
	}

	raw, err := encodeLocal(loc)
	if err != nil {
		return wrapErr("set manifest", err)
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManifests).Put(manifestKey(id), raw)
	})

	return wrapErr("set manifest", err)
}

// ClearManifest drops id from the manifest cache. Only legal when the
// manifest does not need sync (§4.1).
func (s *Store) ClearManifest(id ids.EntryID) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)

		raw := b.Get(manifestKey(id))
		if raw == nil {
			return nil
		}

		loc, err := decodeLocal(raw)
		if err != nil {
			return err
		}

		if loc.NeedSync {
			return ErrManifestDirty
		}

		return b.Delete(manifestKey(id))
	})
	if errors.Is(err, ErrManifestDirty) {
		return err
	}

	return wrapErr("clear manifest", err)
}

// GetBaseManifest returns the last-synced remote representation of id, used
// by the sync engine when retrying an upload after a conflict (§4.1).
func (s *Store) GetBaseManifest(id ids.EntryID) (manifest.Manifest, error) {
	var m manifest.Manifest

	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketBaseManifests).Get(manifestKey(id))
		if raw == nil {
			return ErrManifestMissing
		}

		decoded, err := manifest.Decode(raw)
		if err != nil {
			return err
		}

		m = decoded

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrManifestMissing) {
			return nil, err
		}

		return nil, wrapErr("get base manifest", err)
	}

	return m, nil
}

// SetBaseManifest records m as the last-synced remote representation of id.
// Called by the sync engine immediately after a successful upload.
func (s *Store) SetBaseManifest(id ids.EntryID, m manifest.Manifest) error {
	raw, err := manifest.Encode(m)
	if err != nil {
		return wrapErr("set base manifest", err)
	}

	return wrapErr("set base manifest", s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBaseManifests).Put(manifestKey(id), raw)
	}))
}

func manifestKey(id ids.EntryID) []byte {
	return []byte(id.String())
}

type localWire struct {
	Manifest      json.RawMessage `json:"manifest"`
	BaseVersion   uint64          `json:"base_version"`
	NeedSync      bool            `json:"need_sync"`
	IsPlaceholder bool            `json:"is_placeholder"`
	Blocks        [][]manifest.Chunk `json:"blocks,omitempty"`
}

func encodeLocal(loc manifest.Local) ([]byte, error) {
	encoded, err := manifest.Encode(loc.Manifest)
	if err != nil {
		return nil, err
	}

	return json.Marshal(localWire{
		Manifest:      encoded,
		BaseVersion:   loc.BaseVersion,
		NeedSync:      loc.NeedSync,
		IsPlaceholder: loc.IsPlaceholder,
		Blocks:        loc.Blocks,
	})
}

func decodeLocal(raw []byte) (manifest.Local, error) {
	var w localWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return manifest.Local{}, errors.Wrap(err, "decode local manifest")
	}

	m, err := manifest.Decode(w.Manifest)
	if err != nil {
		return manifest.Local{}, err
	}

	return manifest.Local{
		Manifest:      m,
		BaseVersion:   w.BaseVersion,
		NeedSync:      w.NeedSync,
		IsPlaceholder: w.IsPlaceholder,
		Blocks:        w.Blocks,
	}, nil
}
