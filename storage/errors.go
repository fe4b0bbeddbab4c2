// Package storage implements the Local Storage contract of §4.1: a
// durable, per-device manifest cache, block/chunk cache with LRU eviction of
// clean blocks, and per-entry locking with deadlock-free ordered acquisition
// for multi-entry operations.
//
// The on-disk form is a single go.etcd.io/bbolt database per device
// directory (§6 "On-disk layout"), one bucket per table, mirroring the
// teacher's own disk-backed cache (block.diskBlockCache) but replacing its
// bespoke flat-file-plus-HMAC scheme with bbolt's ACID buckets, which give
// the durability-before-return guarantee §4.1 requires for free (a
// successful bbolt.Update already fsynced).
package storage

import "github.com/pkg/errors"

// ErrManifestMissing is returned by GetManifest/GetBaseManifest when no
// manifest is cached for the requested entry id.
var ErrManifestMissing = errors.New("manifest not found in local storage")

// ErrManifestDirty is returned by ClearManifest when the cached manifest
// still needs sync: clearing it would silently discard local changes.
var ErrManifestDirty = errors.New("cannot clear a manifest with unsynced local changes")

// ErrBlockMissing is returned by GetBlock when no data is cached under any
// state for the requested block id.
var ErrBlockMissing = errors.New("block not found in local storage")

// Error wraps any underlying IO failure as fatal to the current operation,
// per §4.1 "Failure semantics": never fatal to the process.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "local storage: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Op: op, Err: err}
}
