package remote

import (
	"context"
	"time"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/parsecerr"
)

// Timestamped is the read-only projection of a RemoteLoader pinned to one
// instant, per §4.2 "Timestamped variant": it refuses all writes and, on
// LoadManifest, additionally requires the server-declared timestamp to
// equal the pinned one (defense against a server returning a newer version
// than requested). workspacefs.History (§13) is built on this.
type Timestamped struct {
	*RemoteLoader
	At time.Time
}

// NewTimestamped pins loader to at.
func NewTimestamped(loader *RemoteLoader, at time.Time) *Timestamped {
	return &Timestamped{RemoteLoader: loader, At: at}
}

// LoadManifest loads entryID as of t.At, rejecting any server response whose
// declared timestamp does not match exactly.
func (t *Timestamped) LoadManifest(ctx context.Context, entryID ids.EntryID) (RemoteManifest, error) {
	at := t.At

	rm, err := t.RemoteLoader.LoadManifest(ctx, entryID, nil, &at)
	if err != nil {
		return RemoteManifest{}, err
	}

	if !rm.Timestamp.Equal(t.At) {
		return RemoteManifest{}, parsecerr.New(parsecerr.Crypto, "server returned a manifest version from a different timestamp than requested", nil)
	}

	return rm, nil
}

// LoadBlock is read-only and identical to the live loader's.
func (t *Timestamped) LoadBlock(ctx context.Context, access manifest.BlockAccess) ([]byte, error) {
	return t.RemoteLoader.LoadBlock(ctx, access)
}

// UploadBlock always fails: the timestamped projection refuses all writes.
func (t *Timestamped) UploadBlock(context.Context, manifest.BlockAccess, []byte) error {
	return parsecerr.New(parsecerr.NoAccess, "timestamped projection is read-only", nil)
}

// UploadManifest always fails: the timestamped projection refuses all
// writes.
func (t *Timestamped) UploadManifest(context.Context, ids.EntryID, manifest.Manifest, time.Time) error {
	return parsecerr.New(parsecerr.NoAccess, "timestamped projection is read-only", nil)
}
