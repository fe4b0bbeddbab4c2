package manifest

import "github.com/scille/parsec-core/ids"

// Local wraps a remote manifest variant with the local-only bookkeeping of
// §3 "LocalManifest": the base version the local copy last synced to,
// whether it has unsynced local changes, whether it has never been
// registered with the server, and (for files only) the per-slot chunk lists
// that the remote form's single BlockAccess per slot cannot express.
type Local struct {
	Manifest      Manifest
	BaseVersion   uint64
	NeedSync      bool
	IsPlaceholder bool

	// Blocks is only meaningful when Manifest.Kind() == KindFile: index i
	// holds the ordered, gap-free chunk list covering slot i's window.
	Blocks [][]Chunk
}

// NewPlaceholder wraps m (version 0, author nil) as a fresh local
// placeholder: base_version = 0, need_sync = true, is_placeholder = true,
// per the §3 invariant "is_placeholder ⇒ base_version = 0 ⇒ need_sync =
// true".
func NewPlaceholder(m Manifest) Local {
	return Local{
		Manifest:      m,
		BaseVersion:   0,
		NeedSync:      true,
		IsPlaceholder: true,
	}
}

// NewSynced wraps m as a local manifest that already matches the server at
// version m.Meta().Version. For a FileManifest, Blocks is rebuilt from the
// remote block list so the file is immediately readable without a separate
// fetch step.
func NewSynced(m Manifest) Local {
	l := Local{
		Manifest:      m,
		BaseVersion:   m.Meta().Version,
		NeedSync:      false,
		IsPlaceholder: false,
	}

	if f, ok := m.(FileManifest); ok {
		l.Blocks = BlocksFromFile(f)
	}

	return l
}

// BlocksFromFile rebuilds the per-slot chunk list of §3's LocalManifest from
// a remote FileManifest's block list: slot i gets a single clean chunk
// spanning the slot's full window, backed by the BlockAccess whose Offset
// equals the slot's start. A slot with no matching BlockAccess (a sparse
// hole predating any write to it) is left empty, since nothing has ever
// reshaped or uploaded it.
func BlocksFromFile(f FileManifest) [][]Chunk {
	slotCount := SlotCount(f.Size, f.BlockSize)
	if slotCount == 0 {
		return nil
	}

	byOffset := make(map[uint64]BlockAccess, len(f.Blocks))
	for _, b := range f.Blocks {
		byOffset[b.Offset] = b
	}

	blocks := make([][]Chunk, slotCount)

	for slot := uint64(0); slot < slotCount; slot++ {
		start, stop := SlotWindow(slot, f.Size, f.BlockSize)

		access, ok := byOffset[start]
		if !ok {
			continue
		}

		blocks[slot] = []Chunk{{
			ID:        ids.NewChunkID(),
			Start:     start,
			Stop:      stop,
			RawOffset: start,
			RawSize:   stop - start,
			Access:    &access,
		}}
	}

	return blocks
}

// Validate checks the §3 invariant: is_placeholder ⇒ base_version == 0 ⇒
// need_sync, and conversely base_version >= 1 ⇒ ¬is_placeholder.
func (l Local) Validate() error {
	if l.IsPlaceholder {
		if l.BaseVersion != 0 {
			return errInvariant("placeholder must have base_version == 0")
		}

		if !l.NeedSync {
			return errInvariant("placeholder must have need_sync == true")
		}
	}

	if l.BaseVersion >= 1 && l.IsPlaceholder {
		return errInvariant("base_version >= 1 implies not a placeholder")
	}

	return nil
}

func errInvariant(msg string) error {
	return &invariantError{msg: msg}
}

type invariantError struct{ msg string }

func (e *invariantError) Error() string { return "manifest invariant violated: " + e.msg }

// File is a convenience accessor panicking if the wrapped manifest is not a
// FileManifest; used in the many call sites that already dispatched on Kind.
func (l Local) File() FileManifest {
	return l.Manifest.(FileManifest)
}

// Folder is the FolderManifest analogue of File.
func (l Local) Folder() FolderManifest {
	return l.Manifest.(FolderManifest)
}

// Workspace is the WorkspaceManifest analogue of File.
func (l Local) Workspace() WorkspaceManifest {
	return l.Manifest.(WorkspaceManifest)
}

// User is the UserManifest analogue of File.
func (l Local) User() UserManifest {
	return l.Manifest.(UserManifest)
}

// Children returns the children map shared by folder/workspace manifests, or
// nil for files/user manifests.
func (l Local) Children() map[ids.EntryName]ids.EntryID {
	switch l.Manifest.Kind() {
	case KindFolder:
		return l.Folder().Children
	case KindWorkspace:
		return l.Workspace().Children
	default:
		return nil
	}
}
