// Package workspacefs implements §4.4-4.6: path-level entry transactions,
// file-descriptor transactions over a file's chunk algebra, and the sync
// engine that reconciles local and remote manifests.
package workspacefs

import (
	"context"
	"crypto/ed25519"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/remote"
	"github.com/scille/parsec-core/storage"
)

// FileExistsError is returned verbatim by folder_create/file_create when the
// target name is already taken, per §4.4.
type FileExistsError struct{ Name ids.EntryName }

func (e *FileExistsError) Error() string { return "entry already exists: " + string(e.Name) }

// FileNotFoundError is returned verbatim when a path component cannot be
// resolved, per §4.4.
type FileNotFoundError struct{ Path string }

func (e *FileNotFoundError) Error() string { return "no such entry: " + e.Path }

// EventSink receives fs.entry.updated/fs.entry.synced, per §6's event
// taxonomy. It is the same narrow shape as events.Bus.Emit, kept local to
// avoid workspacefs depending on the events package's concrete Bus type.
type EventSink interface {
	Emit(name string, payload any)
}

// WorkspaceFS is the per-workspace facade over local storage and the
// remote loader: the unit userfs spawns one of per workspace (§4.3).
type WorkspaceFS struct {
	Store  *storage.Store
	Loader *remote.RemoteLoader

	WorkspaceID ids.EntryID
	BlockSize   uint64

	Author     ids.DeviceID
	SigningKey ed25519.PrivateKey

	// Events receives the local event taxonomy of §6; nil disables
	// emission.
	Events EventSink
}

func (w *WorkspaceFS) notifyUpdated(id ids.EntryID) {
	if w.Events != nil {
		w.Events.Emit("fs.entry.updated", id)
	}
}

// DefaultBlockSize is the chunk block size used when a WorkspaceFS is built
// without an explicit override.
const DefaultBlockSize = 512 * 1024

// New constructs a WorkspaceFS using the default block size if blockSize is
// zero.
func New(store *storage.Store, loader *remote.RemoteLoader, workspaceID ids.EntryID, blockSize uint64) *WorkspaceFS {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	return &WorkspaceFS{Store: store, Loader: loader, WorkspaceID: workspaceID, BlockSize: blockSize}
}

// splitPath turns a "/"-separated path into its components, ignoring a
// leading/trailing slash; the empty path resolves to the workspace root.
func splitPath(path string) []ids.EntryName {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}

	parts := strings.Split(trimmed, "/")
	out := make([]ids.EntryName, len(parts))

	for i, p := range parts {
		out[i] = ids.EntryName(p)
	}

	return out
}

// resolve walks path from the workspace root, fetching any manifest missing
// from local storage through the Remote Loader, per §4.4 entry_info.
func (w *WorkspaceFS) resolve(ctx context.Context, path string) (ids.EntryID, manifest.Local, error) {
	components := splitPath(path)

	current := w.WorkspaceID

	loc, err := w.getOrFetch(ctx, current)
	if err != nil {
		return ids.EntryID{}, manifest.Local{}, err
	}

	for _, name := range components {
		children := loc.Children()
		if children == nil {
			return ids.EntryID{}, manifest.Local{}, &FileNotFoundError{Path: path}
		}

		childID, ok := children[name]
		if !ok {
			return ids.EntryID{}, manifest.Local{}, &FileNotFoundError{Path: path}
		}

		current = childID

		loc, err = w.getOrFetch(ctx, current)
		if err != nil {
			return ids.EntryID{}, manifest.Local{}, err
		}
	}

	return current, loc, nil
}

// getOrFetch returns the locally cached manifest for id, fetching and
// caching it from the remote if missing, per §4.4 "If any manifest along the
// way is missing locally, it is fetched through the Remote Loader".
func (w *WorkspaceFS) getOrFetch(ctx context.Context, id ids.EntryID) (manifest.Local, error) {
	loc, err := w.Store.GetManifest(id)
	if err == nil {
		return loc, nil
	}

	if !errors.Is(err, storage.ErrManifestMissing) {
		return manifest.Local{}, err
	}

	rm, rerr := w.Loader.LoadManifest(ctx, id, nil, nil)
	if rerr != nil {
		return manifest.Local{}, rerr
	}

	synced := manifest.NewSynced(rm.Manifest)
	if werr := w.Store.SetManifest(id, synced); werr != nil {
		return manifest.Local{}, werr
	}

	if werr := w.Store.SetBaseManifest(id, rm.Manifest); werr != nil {
		return manifest.Local{}, werr
	}

	return synced, nil
}

// EntryInfo resolves path, per §4.4 entry_info.
func (w *WorkspaceFS) EntryInfo(ctx context.Context, path string) (manifest.Local, error) {
	_, loc, err := w.resolve(ctx, path)
	return loc, err
}

func splitParent(path string) (parentPath string, name ids.EntryName, err error) {
	components := splitPath(path)
	if len(components) == 0 {
		return "", "", errors.New("the workspace root cannot be replaced or renamed")
	}

	parent := components[:len(components)-1]
	names := make([]string, len(parent))

	for i, p := range parent {
		names[i] = string(p)
	}

	return strings.Join(names, "/"), components[len(components)-1], nil
}

// FolderCreate allocates a new folder entry and attaches it under path's
// parent, per §4.4 folder_create.
func (w *WorkspaceFS) FolderCreate(ctx context.Context, path string) (ids.EntryID, error) {
	return w.createEntry(ctx, path, func(id, parentID ids.EntryID, now time.Time) manifest.Manifest {
		return manifest.FolderManifest{
			Base:     manifest.Base{ID: id, Created: now, Updated: now},
			Parent:   parentID,
			Children: map[ids.EntryName]ids.EntryID{},
		}
	})
}

// FileCreate allocates a new, empty file entry and attaches it under path's
// parent, per §4.4 file_create. The "open" behavior named in the spec is the
// caller's concern (this returns the new id either way); workspacefs itself
// has no file descriptor table.
func (w *WorkspaceFS) FileCreate(ctx context.Context, path string) (ids.EntryID, error) {
	return w.createEntry(ctx, path, func(id, parentID ids.EntryID, now time.Time) manifest.Manifest {
		return manifest.FileManifest{
			Base:      manifest.Base{ID: id, Created: now, Updated: now},
			Parent:    parentID,
			BlockSize: w.BlockSize,
		}
	})
}

func (w *WorkspaceFS) createEntry(ctx context.Context, path string, build func(id, parentID ids.EntryID, now time.Time) manifest.Manifest) (ids.EntryID, error) {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return ids.EntryID{}, err
	}

	parentID, _, err := w.resolve(ctx, parentPath)
	if err != nil {
		return ids.EntryID{}, err
	}

	unlock := w.Store.Lock(ctx, parentID)
	defer unlock()

	parentLoc, err := w.Store.GetManifest(parentID)
	if err != nil {
		return ids.EntryID{}, err
	}

	children := parentLoc.Children()
	if _, exists := children[name]; exists {
		return ids.EntryID{}, &FileExistsError{Name: name}
	}

	now := time.Now()
	id := ids.NewEntryID()

	childLoc := manifest.NewPlaceholder(build(id, parentID, now))
	if err := w.Store.SetManifest(id, childLoc); err != nil {
		return ids.EntryID{}, err
	}

	children[name] = id

	parentLoc = attachChildren(parentLoc, children, now)
	parentLoc.NeedSync = true

	if err := w.Store.SetManifest(parentID, parentLoc); err != nil {
		return ids.EntryID{}, err
	}

	w.notifyUpdated(parentID)

	return id, nil
}

func attachChildren(loc manifest.Local, children map[ids.EntryName]ids.EntryID, now time.Time) manifest.Local {
	switch f := loc.Manifest.(type) {
	case manifest.FolderManifest:
		f.Children = children
		f.Base.Updated = now
		loc.Manifest = f
	case manifest.WorkspaceManifest:
		f.Children = children
		f.Base.Updated = now
		loc.Manifest = f
	}

	return loc
}

// EntryRename renames src to dst within the same parent folder, per §4.4
// entry_rename. When overwrite is set and dst exists and is of the same
// kind, the victim's id is returned for later garbage collection.
func (w *WorkspaceFS) EntryRename(ctx context.Context, srcPath, dstName string, overwrite bool) (victim *ids.EntryID, err error) {
	parentPath, srcName, err := splitParent(srcPath)
	if err != nil {
		return nil, err
	}

	parentID, _, err := w.resolve(ctx, parentPath)
	if err != nil {
		return nil, err
	}

	unlock := w.Store.Lock(ctx, parentID)
	defer unlock()

	parentLoc, err := w.Store.GetManifest(parentID)
	if err != nil {
		return nil, err
	}

	children := parentLoc.Children()

	srcID, ok := children[srcName]
	if !ok {
		return nil, &FileNotFoundError{Path: srcPath}
	}

	dst := ids.EntryName(dstName)

	if existingID, exists := children[dst]; exists {
		if !overwrite {
			return nil, &FileExistsError{Name: dst}
		}

		srcLoc, err := w.Store.GetManifest(srcID)
		if err != nil {
			return nil, err
		}

		dstLoc, err := w.Store.GetManifest(existingID)
		if err != nil {
			return nil, err
		}

		if srcLoc.Manifest.Kind() != dstLoc.Manifest.Kind() {
			return nil, errors.New("cannot overwrite an entry of a different kind")
		}

		victim = &existingID
	}

	delete(children, srcName)
	children[dst] = srcID

	now := time.Now()
	parentLoc = attachChildren(parentLoc, children, now)
	parentLoc.NeedSync = true

	if err := w.Store.SetManifest(parentID, parentLoc); err != nil {
		return nil, err
	}

	w.notifyUpdated(parentID)

	return victim, nil
}

// FolderDelete removes name from its parent, per §4.4 folder_delete. The
// orphaned manifest is left in local storage for eventual collection.
func (w *WorkspaceFS) FolderDelete(ctx context.Context, path string) error {
	parentPath, name, err := splitParent(path)
	if err != nil {
		return err
	}

	parentID, _, err := w.resolve(ctx, parentPath)
	if err != nil {
		return err
	}

	unlock := w.Store.Lock(ctx, parentID)
	defer unlock()

	parentLoc, err := w.Store.GetManifest(parentID)
	if err != nil {
		return err
	}

	children := parentLoc.Children()
	if _, ok := children[name]; !ok {
		return &FileNotFoundError{Path: path}
	}

	delete(children, name)

	now := time.Now()
	parentLoc = attachChildren(parentLoc, children, now)
	parentLoc.NeedSync = true

	if err := w.Store.SetManifest(parentID, parentLoc); err != nil {
		return err
	}

	w.notifyUpdated(parentID)

	return nil
}

// signAndUpload is the shared signing/upload step used by the sync engine.
func (w *WorkspaceFS) signAndUpload(ctx context.Context, id ids.EntryID, m manifest.Manifest, now time.Time) error {
	return w.Loader.UploadManifest(ctx, id, m, now)
}
