package workspacefs

import (
	"context"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
)

// Reshape implements §4.5 "Reshape": any slot with more than one chunk, or
// with any sub-block chunk, is materialized into a single new full-size
// dirty block, because the remote FileManifest can only reference one
// BlockAccess per block slot. Reshape is required before a file's dirty
// slots can be uploaded.
func (fd *FileDescriptor) Reshape(ctx context.Context) error {
	unlock := fd.ws.Store.Lock(ctx, fd.id)
	defer unlock()

	loc, err := fd.ws.Store.GetManifest(fd.id)
	if err != nil {
		return err
	}

	f := loc.File()

	changed := false

	for slot := range loc.Blocks {
		chunks := loc.Blocks[slot]
		if !needsReshape(chunks) {
			continue
		}

		start, stop := manifest.SlotWindow(uint64(slot), f.Size, f.BlockSize)

		materialized := make([]byte, stop-start)

		for _, c := range chunks {
			data, err := fd.ws.readChunk(ctx, c)
			if err != nil {
				return err
			}

			copy(materialized[c.Start-start:c.Stop-start], data[:c.Stop-c.Start])
		}

		newChunk := manifest.NewDirtyChunk(start, stop)
		if err := fd.ws.Store.SetChunk(newChunk.ID, materialized); err != nil {
			return err
		}

		for _, c := range chunks {
			if c.Access == nil {
				fd.ws.Store.ClearChunk(c.ID) //nolint:errcheck
			}
		}

		loc.Blocks[slot] = []manifest.Chunk{newChunk}
		changed = true
	}

	if !changed {
		return nil
	}

	loc.NeedSync = true

	return fd.ws.Store.SetManifest(fd.id, loc)
}

// needsReshape reports whether a slot's chunk list is not already a single
// full clean block.
func needsReshape(chunks []manifest.Chunk) bool {
	if len(chunks) != 1 {
		return true
	}

	return !chunks[0].IsBlock()
}

// reshapeAll reshapes every slot of id that needs it, used by the sync
// engine before upload (§4.6 "upload every dirty block referenced by
// new_remote").
func (w *WorkspaceFS) reshapeAll(ctx context.Context, id ids.EntryID) error {
	fd := &FileDescriptor{ws: w, id: id}
	return fd.Reshape(ctx)
}
