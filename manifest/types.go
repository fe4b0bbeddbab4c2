// Package manifest implements the data model of §3: block access
// descriptors, local chunk algebra, the four manifest variants (file,
// folder, workspace, user) as a tagged union, and the merge rules of §9
// used by the sync engine.
package manifest

import (
	"time"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
)

// Role is a workspace membership role. The zero value Role("") encodes
// revocation (role = ∅ in §3).
type Role string

// Supported roles, ordered from least to most privileged where that order
// matters (role comparisons in the user-manifest merge rule).
const (
	RoleReader      Role = "READER"
	RoleContributor Role = "CONTRIBUTOR"
	RoleManager     Role = "MANAGER"
	RoleOwner       Role = "OWNER"
	RoleNone        Role = ""
)

// rank orders roles for the "higher role wins" rule in the user manifest
// merge (§4.6). RoleNone ranks below every real role.
func (r Role) rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleManager:
		return 3
	case RoleContributor:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// Higher returns whichever of r and other ranks higher.
func (r Role) Higher(other Role) Role {
	if other.rank() > r.rank() {
		return other
	}

	return r
}

// IsOwnerOrManager reports whether r grants sharing rights (§4.3).
func (r Role) IsOwnerOrManager() bool {
	return r == RoleOwner || r == RoleManager
}

// BlockAccess describes one uploaded, content-verified block: its id, the
// per-block symmetric key, its placement within the owning file, and the
// plaintext digest checked on every download (§3).
type BlockAccess struct {
	ID     ids.BlockID
	Key    crypto.SecretKey
	Offset uint64
	Size   uint64
	Digest crypto.Digest
}

// WorkspaceEntry is one row of a user manifest's workspace list (§3).
type WorkspaceEntry struct {
	Name               ids.EntryName
	ID                 ids.EntryID
	Key                crypto.SecretKey
	EncryptionRevision uint32
	EncryptedOn        time.Time
	RoleCachedOn       time.Time
	Role               Role
}

// NewWorkspaceEntry builds the WorkspaceEntry for a freshly created
// workspace: revision 1, role OWNER, per §4.3 workspace_create.
func NewWorkspaceEntry(name ids.EntryName, id ids.EntryID, key crypto.SecretKey, now time.Time) WorkspaceEntry {
	return WorkspaceEntry{
		Name:               name,
		ID:                 id,
		Key:                key,
		EncryptionRevision: 1,
		EncryptedOn:        now,
		RoleCachedOn:       now,
		Role:               RoleOwner,
	}
}

// IsRevoked reports whether the entry has been stripped of all access.
func (e WorkspaceEntry) IsRevoked() bool {
	return e.Role == RoleNone
}

// Kind discriminates the manifest tagged union (§9 "Dynamic manifest
// dispatch" re-architecture: a tagged union instead of string-tag dispatch).
type Kind int

const (
	// KindFile marks a FileManifest.
	KindFile Kind = iota + 1
	// KindFolder marks a FolderManifest.
	KindFolder
	// KindWorkspace marks a WorkspaceManifest.
	KindWorkspace
	// KindUser marks a UserManifest.
	KindUser
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFolder:
		return "folder"
	case KindWorkspace:
		return "workspace"
	case KindUser:
		return "user"
	default:
		return "unknown"
	}
}

// Base holds the fields common to every manifest variant.
type Base struct {
	ID      ids.EntryID
	Version uint64
	Created time.Time
	Updated time.Time

	// Author is nil for version 0 (placeholders, signed by the device
	// rather than any root key) and set for version >= 1.
	Author *ids.DeviceID
}

// Manifest is the tagged union over the four remote manifest variants.
// Consumers dispatch either on Kind() or with a type switch over the
// concrete variant types; Go does not check that such a switch covers every
// variant.
type Manifest interface {
	Kind() Kind
	Meta() Base
	// WithBase returns a copy of the manifest with its Base replaced,
	// used by the sync engine when stamping a new version/author/updated
	// time onto an otherwise-unchanged manifest.
	WithBase(Base) Manifest
}

// FileManifest describes a file's content as an ordered sequence of
// non-overlapping blocks covering [0, Size) (§3).
type FileManifest struct {
	Base
	Parent    ids.EntryID
	Size      uint64
	BlockSize uint64
	Blocks    []BlockAccess
}

// Kind implements Manifest.
func (m FileManifest) Kind() Kind { return KindFile }

// Meta implements Manifest.
func (m FileManifest) Meta() Base { return m.Base }

// WithBase implements Manifest.
func (m FileManifest) WithBase(b Base) Manifest {
	m.Base = b
	return m
}

// FolderManifest describes a folder as a name -> child-entry-id map (§3).
type FolderManifest struct {
	Base
	Parent   ids.EntryID
	Children map[ids.EntryName]ids.EntryID
}

func (m FolderManifest) Kind() Kind { return KindFolder }
func (m FolderManifest) Meta() Base { return m.Base }
func (m FolderManifest) WithBase(b Base) Manifest {
	m.Base = b
	return m
}

// WorkspaceManifest is a folder manifest with no parent: the realm root
// (§3).
type WorkspaceManifest struct {
	Base
	Children map[ids.EntryName]ids.EntryID
}

func (m WorkspaceManifest) Kind() Kind { return KindWorkspace }
func (m WorkspaceManifest) Meta() Base { return m.Base }
func (m WorkspaceManifest) WithBase(b Base) Manifest {
	m.Base = b
	return m
}

// UserManifest tracks a user's workspace list and inbound-message cursor
// (§3).
type UserManifest struct {
	Base
	LastProcessedMessage uint64
	Workspaces           []WorkspaceEntry
}

func (m UserManifest) Kind() Kind { return KindUser }
func (m UserManifest) Meta() Base { return m.Base }
func (m UserManifest) WithBase(b Base) Manifest {
	m.Base = b
	return m
}

// FindWorkspace returns the entry for id, if present.
func (m UserManifest) FindWorkspace(id ids.EntryID) (WorkspaceEntry, bool) {
	for _, w := range m.Workspaces {
		if w.ID == id {
			return w, true
		}
	}

	return WorkspaceEntry{}, false
}
