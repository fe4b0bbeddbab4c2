package workspacefs

import (
	"context"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/parsecerr"
	"github.com/scille/parsec-core/remote"
	"github.com/scille/parsec-core/storage"
)

// ErrReshapingRequired signals that synchronizationStep found a file slot
// that is not yet a single full clean block; the caller reshapes and
// retries the step, per the sync_by_id loop of §4.6.
var ErrReshapingRequired = errors.New("reshaping required before sync")

// FileConflictError is raised when both sides diverged from the common
// ancestor version of the same file (§4.6 "File conflict"). The caller
// resolves it by creating a conflict-copy sibling under the parent;
// resolveFileConflict does that and marks the parent as needing sync, but
// does not itself re-run the parent's sync.
type FileConflictError struct {
	EntryID ids.EntryID
	Local   manifest.FileManifest
	Remote  manifest.FileManifest
}

func (e *FileConflictError) Error() string {
	return "conflicting concurrent writes to the same file"
}

// SyncByID implements §4.6 sync_by_id: reconciles the local and remote forms
// of entryID, recursing into children when recursive is set.
func (w *WorkspaceFS) SyncByID(ctx context.Context, entryID ids.EntryID, remoteChanged, recursive bool) error {
	ctx = storage.WithTask(ctx)

	unlock := w.Store.Lock(ctx, entryID)
	defer unlock()

	return w.syncByIDLocked(ctx, entryID, remoteChanged, recursive)
}

func (w *WorkspaceFS) syncByIDLocked(ctx context.Context, entryID ids.EntryID, remoteChanged, recursive bool) error {
	for {
		var rm *remote.RemoteManifest

		if remoteChanged {
			got, err := w.Loader.LoadManifest(ctx, entryID, nil, nil)
			if err != nil {
				if !parsecerr.Is(err, parsecerr.NoAccess) {
					return err
				}
				// Not found on the server yet: treated as "no remote",
				// same as an un-synced placeholder.
			} else {
				rm = &got
			}
		}

		loc, err := w.Store.GetManifest(entryID)
		if errors.Is(err, storage.ErrManifestMissing) {
			return nil
		}

		if err != nil {
			return err
		}

		newRemote, base, err := w.synchronizationStep(entryID, loc, rm, false)
		if errors.Is(err, ErrReshapingRequired) {
			if rerr := w.reshapeAll(ctx, entryID); rerr != nil {
				return rerr
			}

			continue
		}

		if err != nil {
			return err
		}

		_ = base

		if newRemote == nil {
			return nil
		}

		if recursive && (newRemote.Kind() == manifest.KindFolder || newRemote.Kind() == manifest.KindWorkspace) {
			if err := w.syncPlaceholderChildren(ctx, entryID, newRemote, recursive); err != nil {
				return err
			}
		}

		if newRemote.Kind() == manifest.KindFile {
			if err := w.reshapeAll(ctx, entryID); err != nil {
				return err
			}

			if err := w.uploadDirtyBlocks(ctx, entryID); err != nil {
				return err
			}

			// reshapeAll/uploadDirtyBlocks only persist the populated
			// Blocks to the store, never back into newRemote; reload it so
			// the upload below carries the now-populated block list rather
			// than the pre-upload manifest with Blocks == nil, keeping the
			// version/author stamp synchronizationStep put on newRemote.
			uploaded, err := w.Store.GetManifest(entryID)
			if err != nil {
				return err
			}

			newRemote = uploaded.Manifest.WithBase(newRemote.Meta())
		}

		now := time.Now()

		err = w.Loader.UploadManifest(ctx, entryID, newRemote, now)
		if err != nil {
			if parsecerr.Is(err, parsecerr.RemoteSync) {
				remoteChanged = true
				continue
			}

			return err
		}

		if err := w.Store.SetBaseManifest(entryID, newRemote); err != nil {
			return err
		}

		ackRemote := &remote.RemoteManifest{Manifest: newRemote, Author: w.Author, Timestamp: now, Version: newRemote.Meta().Version}

		loc, err = w.Store.GetManifest(entryID)
		if err != nil {
			return err
		}

		if _, _, err := w.synchronizationStep(entryID, loc, ackRemote, true); err != nil {
			return err
		}

		if w.Events != nil {
			w.Events.Emit("fs.entry.synced", entryID)
		}

		return nil
	}
}

// synchronizationStep is a pure function of (local, remote, final) that
// returns either a new remote-to-upload or nil (already synced), per §4.6.
// base is the last-synced remote representation, needed by the folder/user
// merges; it is returned so callers that want it don't have to refetch.
func (w *WorkspaceFS) synchronizationStep(entryID ids.EntryID, loc manifest.Local, rm *remote.RemoteManifest, final bool) (manifest.Manifest, manifest.Manifest, error) {
	base, baseErr := w.Store.GetBaseManifest(entryID)
	if baseErr != nil && !errors.Is(baseErr, storage.ErrManifestMissing) {
		return nil, nil, baseErr
	}

	if final {
		if rm == nil {
			return nil, base, errors.New("synchronizationStep: final step requires a remote manifest")
		}

		if err := w.Store.SetManifest(entryID, manifest.NewSynced(rm.Manifest)); err != nil {
			return nil, base, err
		}

		return nil, base, nil
	}

	if rm == nil {
		if !loc.NeedSync {
			return nil, base, nil
		}

		return w.stampNext(loc.Manifest, loc.BaseVersion+1), base, nil
	}

	if loc.BaseVersion == rm.Version && !loc.NeedSync {
		return nil, base, nil
	}

	switch loc.Manifest.Kind() {
	case manifest.KindFile:
		return w.syncStepFile(entryID, loc, rm, base, baseErr)
	case manifest.KindFolder, manifest.KindWorkspace:
		return w.syncStepChildren(entryID, loc, rm, base, baseErr)
	case manifest.KindUser:
		return w.syncStepUser(entryID, loc, rm)
	default:
		return nil, base, errors.Errorf("synchronizationStep: unsupported manifest kind %v", loc.Manifest.Kind())
	}
}

func (w *WorkspaceFS) syncStepFile(entryID ids.EntryID, loc manifest.Local, rm *remote.RemoteManifest, base manifest.Manifest, baseErr error) (manifest.Manifest, manifest.Manifest, error) {
	if loc.NeedSync && rm.Version > loc.BaseVersion && baseErr == nil {
		if fileDiverged(base.(manifest.FileManifest), loc.File(), rm.Manifest.(manifest.FileManifest)) {
			return nil, base, &FileConflictError{EntryID: entryID, Local: loc.File(), Remote: rm.Manifest.(manifest.FileManifest)}
		}
	}

	for _, slot := range loc.Blocks {
		if needsReshape(slot) {
			return nil, base, ErrReshapingRequired
		}
	}

	if loc.NeedSync {
		next := loc.BaseVersion
		if rm.Version > next {
			next = rm.Version
		}

		return w.stampNext(loc.Manifest, next+1), base, nil
	}

	if err := w.Store.SetManifest(entryID, manifest.NewSynced(rm.Manifest)); err != nil {
		return nil, base, err
	}

	return nil, base, nil
}

// fileDiverged reports whether both local and remote changed content
// relative to base (rather than remote simply being ahead because of
// metadata-only churn the local copy already reflects).
func fileDiverged(base, local, remote manifest.FileManifest) bool {
	return !reflect.DeepEqual(base.Blocks, local.Blocks) && !reflect.DeepEqual(base.Blocks, remote.Blocks)
}

func (w *WorkspaceFS) syncStepChildren(entryID ids.EntryID, loc manifest.Local, rm *remote.RemoteManifest, base manifest.Manifest, baseErr error) (manifest.Manifest, manifest.Manifest, error) {
	var baseChildren map[ids.EntryName]ids.EntryID
	if baseErr == nil {
		baseChildren = childrenOf(base)
	}

	localChildren := loc.Children()
	remoteChildren := childrenOf(rm.Manifest)

	merged, conflicts := manifest.MergeChildren(baseChildren, localChildren, remoteChildren)

	for _, c := range conflicts {
		localID, ok := localChildren[c.Name]
		if !ok {
			continue
		}

		conflictName := manifest.ConflictCopyName(c.Name, w.Author, time.Now())
		merged[conflictName] = localID
	}

	if !loc.NeedSync && len(conflicts) == 0 && childrenEqual(remoteChildren, merged) {
		adopted := withChildren(rm.Manifest, merged)
		if err := w.Store.SetManifest(entryID, manifest.NewSynced(adopted)); err != nil {
			return nil, base, err
		}

		return nil, base, nil
	}

	next := loc.BaseVersion
	if rm.Version > next {
		next = rm.Version
	}

	out := withChildren(loc.Manifest, merged)

	return w.stampNext(out, next+1), base, nil
}

func (w *WorkspaceFS) syncStepUser(entryID ids.EntryID, loc manifest.Local, rm *remote.RemoteManifest) (manifest.Manifest, manifest.Manifest, error) {
	localUser := loc.Manifest.(manifest.UserManifest)
	remoteUser := rm.Manifest.(manifest.UserManifest)

	merged := manifest.MergeUser(localUser, remoteUser)

	if !loc.NeedSync && workspacesEqual(merged.Workspaces, remoteUser.Workspaces) && merged.LastProcessedMessage == remoteUser.LastProcessedMessage {
		if err := w.Store.SetManifest(entryID, manifest.NewSynced(remoteUser)); err != nil {
			return nil, rm.Manifest, err
		}

		return nil, rm.Manifest, nil
	}

	next := loc.BaseVersion
	if rm.Version > next {
		next = rm.Version
	}

	return w.stampNext(merged, next+1), rm.Manifest, nil
}

func childrenOf(m manifest.Manifest) map[ids.EntryName]ids.EntryID {
	switch v := m.(type) {
	case manifest.FolderManifest:
		return v.Children
	case manifest.WorkspaceManifest:
		return v.Children
	default:
		return nil
	}
}

func withChildren(m manifest.Manifest, children map[ids.EntryName]ids.EntryID) manifest.Manifest {
	switch v := m.(type) {
	case manifest.FolderManifest:
		v.Children = children
		return v
	case manifest.WorkspaceManifest:
		v.Children = children
		return v
	default:
		return m
	}
}

func childrenEqual(a, b map[ids.EntryName]ids.EntryID) bool {
	if len(a) != len(b) {
		return false
	}

	for k, v := range a {
		if b[k] != v {
			return false
		}
	}

	return true
}

func workspacesEqual(a, b []manifest.WorkspaceEntry) bool {
	return reflect.DeepEqual(a, b)
}

// stampNext returns m with its Base replaced by a fresh version/author/
// updated-time triple, the final write the sync engine performs before
// upload.
func (w *WorkspaceFS) stampNext(m manifest.Manifest, version uint64) manifest.Manifest {
	base := m.Meta()
	base.Version = version
	base.Updated = time.Now()
	author := w.Author
	base.Author = &author

	return m.WithBase(base)
}

// syncPlaceholderChildren syncs every not-yet-acknowledged child of a
// folder/workspace manifest before the parent itself, per §4.6 "Placeholder
// children must be synced before their parent".
func (w *WorkspaceFS) syncPlaceholderChildren(ctx context.Context, parentID ids.EntryID, m manifest.Manifest, recursive bool) error {
	children := childrenOf(m)

	for _, childID := range children {
		childLoc, err := w.Store.GetManifest(childID)
		if err != nil {
			if errors.Is(err, storage.ErrManifestMissing) {
				continue
			}

			return err
		}

		if !childLoc.IsPlaceholder && !childLoc.NeedSync {
			continue
		}

		if err := w.SyncByID(ctx, childID, false, recursive); err != nil {
			var conflict *FileConflictError
			if errors.As(err, &conflict) {
				name, ok := nameOf(children, childID)
				if !ok {
					return err
				}

				if rerr := w.resolveFileConflict(ctx, parentID, name, conflict); rerr != nil {
					return rerr
				}

				continue
			}

			return err
		}
	}

	return nil
}

func nameOf(children map[ids.EntryName]ids.EntryID, id ids.EntryID) (ids.EntryName, bool) {
	for name, childID := range children {
		if childID == id {
			return name, true
		}
	}

	return "", false
}

// resolveFileConflict implements the §4.6 file-conflict resolution: the
// remote version keeps the original name, and the diverged local content is
// preserved as a new sibling placeholder named via manifest.ConflictCopyName,
// so a subsequent parent sync uploads it as an independent file.
func (w *WorkspaceFS) resolveFileConflict(ctx context.Context, parentID ids.EntryID, name ids.EntryName, conflict *FileConflictError) error {
	unlock := w.Store.Lock(ctx, parentID)
	defer unlock()

	parentLoc, err := w.Store.GetManifest(parentID)
	if err != nil {
		return err
	}

	children := parentLoc.Children()

	now := time.Now()
	copyID := ids.NewEntryID()

	copyManifest := conflict.Local
	copyManifest.Base = manifest.Base{ID: copyID, Created: now, Updated: now}

	copyLoc := manifest.NewPlaceholder(copyManifest)
	copyLoc.Blocks = append([][]manifest.Chunk(nil), w.mustLocal(conflict.EntryID).Blocks...)

	if err := w.Store.SetManifest(copyID, copyLoc); err != nil {
		return err
	}

	if err := w.Store.SetManifest(conflict.EntryID, manifest.NewSynced(conflict.Remote)); err != nil {
		return err
	}

	children[manifest.ConflictCopyName(name, w.Author, now)] = copyID

	parentLoc = attachChildren(parentLoc, children, now)
	parentLoc.NeedSync = true

	return w.Store.SetManifest(parentID, parentLoc)
}

func (w *WorkspaceFS) mustLocal(id ids.EntryID) manifest.Local {
	loc, err := w.Store.GetManifest(id)
	if err != nil {
		return manifest.Local{}
	}

	return loc
}

// uploadDirtyBlocks uploads every dirty block referenced by the file's
// current (post-reshape) chunk list, per §4.6 "upload every dirty block
// referenced by new_remote".
func (w *WorkspaceFS) uploadDirtyBlocks(ctx context.Context, entryID ids.EntryID) error {
	loc, err := w.Store.GetManifest(entryID)
	if err != nil {
		return err
	}

	f := loc.File()

	for slot := range loc.Blocks {
		chunks := loc.Blocks[slot]
		if len(chunks) != 1 || chunks[0].Access != nil {
			continue
		}

		c := chunks[0]

		data, err := w.Store.GetChunk(c.ID)
		if err != nil {
			return err
		}

		key, err := crypto.GenerateSecretKey()
		if err != nil {
			return err
		}

		access := manifest.BlockAccess{
			ID:     ids.NewBlockID(),
			Key:    key,
			Offset: c.Start,
			Size:   c.Stop - c.Start,
			Digest: crypto.ComputeDigest(data),
		}

		if err := w.Loader.UploadBlock(ctx, access, data); err != nil {
			return err
		}

		if err := w.Store.SetCleanBlock(access.ID, data); err != nil {
			return err
		}

		c.Access = &access
		loc.Blocks[slot][0] = c

		blocks := append([]manifest.BlockAccess(nil), f.Blocks...)
		blocks = appendOrReplaceBlockForSlot(blocks, uint64(slot), access)
		f.Blocks = blocks
	}

	loc.Manifest = f

	return w.Store.SetManifest(entryID, loc)
}

func appendOrReplaceBlockForSlot(blocks []manifest.BlockAccess, slot uint64, access manifest.BlockAccess) []manifest.BlockAccess {
	for i, b := range blocks {
		if b.Offset == access.Offset {
			blocks[i] = access
			return blocks
		}
	}

	return append(blocks, access)
}
