// Package userfs implements §4.3 User FS: ownership of the user manifest,
// workspace lifecycle operations, sharing, and the inbound message pipeline
// that materializes sharing grants/revocations into local workspace
// entries.
package userfs

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/events"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/realm"
	"github.com/scille/parsec-core/remote"
	"github.com/scille/parsec-core/storage"
	"github.com/scille/parsec-core/workspacefs"
)

// Directory resolves both halves of a device's public key material: the
// ed25519 verify key role certificates and manifests are checked against,
// and the curve25519 box key a user's sharing messages are encrypted for.
// It structurally satisfies remote.DeviceDirectory and realm.VerifyKeyLookup
// without importing either package's interface type.
type Directory interface {
	VerifyKey(ctx context.Context, device ids.DeviceID, at time.Time) (ed25519.PublicKey, error)
	UserBoxPublicKey(ctx context.Context, user ids.UserID) (crypto.BoxPublicKey, error)
}

// UserFS owns one user's manifest and the workspace entries it lists,
// per §4.3.
type UserFS struct {
	Store     *storage.Store
	Client    remote.RealmClient
	Directory Directory

	UserManifestID     ids.EntryID
	UserRealmKey       crypto.SecretKey
	EncryptionRevision uint32

	Author        ids.DeviceID
	SigningKey    ed25519.PrivateKey
	BoxPrivateKey crypto.BoxPrivateKey

	// Events receives the local event taxonomy of §6; nil disables
	// emission.
	Events EventSink
}

// loader builds the RemoteLoader speaking for the user's own realm (the
// user manifest vlob), scoped to this UserFS's keys.
func (u *UserFS) loader() *remote.RemoteLoader {
	return &remote.RemoteLoader{
		Client:             u.Client,
		Devices:            u.Directory,
		RealmID:            ids.RealmID(u.UserManifestID),
		EncryptionRevision: u.EncryptionRevision,
		WorkspaceKey:       u.UserRealmKey,
		SigningKey:         u.SigningKey,
		Author:             u.Author,
	}
}

// Loader exposes the RemoteLoader scoped to the user's own realm, for
// callers outside this package that need to poll or probe it directly
// (core's connection probe and own-realm watcher).
func (u *UserFS) Loader() *remote.RemoteLoader {
	return u.loader()
}

// workspaceLoader builds a RemoteLoader scoped to one workspace's own realm
// and symmetric key, used for minimal-sync and for spawning a WorkspaceFS.
func (u *UserFS) workspaceLoader(entry manifest.WorkspaceEntry) *remote.RemoteLoader {
	return &remote.RemoteLoader{
		Client:             u.Client,
		Devices:            u.Directory,
		RealmID:            ids.RealmID(entry.ID),
		EncryptionRevision: entry.EncryptionRevision,
		WorkspaceKey:       entry.Key,
		SigningKey:         u.SigningKey,
		Author:             u.Author,
	}
}

// Open spawns a WorkspaceFS for an already-listed workspace.
func (u *UserFS) Open(ctx context.Context, id ids.EntryID) (*workspacefs.WorkspaceFS, error) {
	loc, err := u.Store.GetManifest(u.UserManifestID)
	if err != nil {
		return nil, err
	}

	entry, ok := loc.User().FindWorkspace(id)
	if !ok {
		return nil, errors.Errorf("no such workspace %s", id)
	}

	return &workspacefs.WorkspaceFS{
		Store:       u.Store,
		Loader:      u.workspaceLoader(entry),
		WorkspaceID: id,
		BlockSize:   workspacefs.DefaultBlockSize,
		Author:      u.Author,
		SigningKey:  u.SigningKey,
		Events:      u.Events,
	}, nil
}

func (u *UserFS) updateUserManifest(ctx context.Context, mutate func(manifest.UserManifest) manifest.UserManifest) error {
	unlock := u.Store.Lock(ctx, u.UserManifestID)
	defer unlock()

	loc, err := u.Store.GetManifest(u.UserManifestID)
	if err != nil {
		return err
	}

	updated := mutate(loc.User())
	updated.Updated = time.Now()

	loc.Manifest = updated
	loc.NeedSync = true

	return u.Store.SetManifest(u.UserManifestID, loc)
}

// WorkspaceCreate implements §4.3 workspace_create: a fresh WorkspaceEntry
// (new id, new key, revision 1, role OWNER), a placeholder local workspace
// manifest, attached to the user manifest.
func (u *UserFS) WorkspaceCreate(ctx context.Context, name string) (ids.EntryID, error) {
	key, err := crypto.GenerateSecretKey()
	if err != nil {
		return ids.EntryID{}, err
	}

	id := ids.NewEntryID()
	now := time.Now()

	placeholder := manifest.NewPlaceholder(manifest.WorkspaceManifest{
		Base:     manifest.Base{ID: id, Created: now, Updated: now},
		Children: map[ids.EntryName]ids.EntryID{},
	})

	if err := u.Store.SetManifest(id, placeholder); err != nil {
		return ids.EntryID{}, err
	}

	entry := manifest.NewWorkspaceEntry(ids.EntryName(name), id, key, now)

	err = u.updateUserManifest(ctx, func(m manifest.UserManifest) manifest.UserManifest {
		m.Workspaces = append(m.Workspaces, entry)
		return m
	})
	if err != nil {
		return ids.EntryID{}, err
	}

	if u.Events != nil {
		u.Events.Emit(string(events.WorkspaceCreated), events.WorkspaceCreatedPayload{Entry: entry})
	}

	return id, nil
}

// WorkspaceRename implements §4.3 workspace_rename: the id and key are
// unchanged; only the display name moves. Names need not be unique.
func (u *UserFS) WorkspaceRename(ctx context.Context, id ids.EntryID, newName string) error {
	return u.updateUserManifest(ctx, func(m manifest.UserManifest) manifest.UserManifest {
		for i := range m.Workspaces {
			if m.Workspaces[i].ID == id {
				m.Workspaces[i].Name = ids.EntryName(newName)
				break
			}
		}

		return m
	})
}

// minimalSyncWorkspace uploads a bare-minimum (empty-children, zero-size)
// remote form just to register the workspace's realm on the server, per
// §4.5 "Minimal sync". A proper sync overlays the real content later.
func (u *UserFS) minimalSyncWorkspace(ctx context.Context, entry manifest.WorkspaceEntry) error {
	loader := u.workspaceLoader(entry)

	self := realm.RoleCertificate{
		Author:    u.Author,
		Timestamp: time.Now(),
		RealmID:   ids.RealmID(entry.ID),
		User:      u.Author.UserID,
		Role:      manifest.RoleOwner,
	}

	selfCert, err := realm.Sign(self, u.SigningKey)
	if err != nil {
		return err
	}

	if err := loader.CreateRealm(ctx, selfCert); err != nil {
		return err
	}

	loc, err := u.Store.GetManifest(entry.ID)
	if err != nil {
		return err
	}

	if !loc.IsPlaceholder && !loc.NeedSync {
		return nil
	}

	bare := manifest.WorkspaceManifest{
		Base:     manifest.Base{ID: entry.ID, Version: 1, Created: loc.Manifest.Meta().Created, Updated: time.Now()},
		Children: map[ids.EntryName]ids.EntryID{},
	}

	author := u.Author
	bare.Author = &author

	now := time.Now()
	if err := loader.UploadManifest(ctx, entry.ID, bare, now); err != nil {
		return err
	}

	return u.Store.SetManifest(entry.ID, manifest.NewSynced(bare))
}

type sharingMessage struct {
	Type ids.EntryName      `json:"type"`
	ID   ids.EntryID        `json:"id"`
	Name ids.EntryName      `json:"name"`
	Key  *crypto.SecretKey  `json:"key,omitempty"`
}

// WorkspaceShare implements §4.3 workspace_share: a three-step, each-step-
// idempotent grant (or revocation when role is manifest.RoleNone).
func (u *UserFS) WorkspaceShare(ctx context.Context, id ids.EntryID, recipient ids.UserID, role manifest.Role) error {
	loc, err := u.Store.GetManifest(u.UserManifestID)
	if err != nil {
		return err
	}

	entry, ok := loc.User().FindWorkspace(id)
	if !ok {
		return errors.Errorf("no such workspace %s", id)
	}

	if !entry.Role.IsOwnerOrManager() {
		return errors.New("workspace_share requires OWNER or MANAGER")
	}

	if err := u.minimalSyncWorkspace(ctx, entry); err != nil {
		return err
	}

	cert := realm.RoleCertificate{
		Author:    u.Author,
		Timestamp: time.Now(),
		RealmID:   ids.RealmID(id),
		User:      recipient,
		Role:      role,
	}

	raw, err := realm.Sign(cert, u.SigningKey)
	if err != nil {
		return err
	}

	status, err := u.Client.RealmUpdateRoles(ctx, remote.RoleCertificateRequest{RoleCertificate: raw})
	if err != nil {
		return err
	}

	if status != remote.StatusOK {
		return remote.ErrForStatus(status, "realm_update_roles")
	}

	msg := sharingMessage{ID: id, Name: entry.Name}
	if role == manifest.RoleNone {
		msg.Type = "revoked"
	} else {
		msg.Type = "granted"
		keyCopy := entry.Key
		msg.Key = &keyCopy
	}

	return u.sendSharingMessage(ctx, recipient, msg)
}

func (u *UserFS) sendSharingMessage(ctx context.Context, recipient ids.UserID, msg sharingMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode sharing message")
	}

	now := time.Now()

	signed := crypto.Sign(u.Author, now, u.SigningKey, payload)

	recipientBox, err := u.Directory.UserBoxPublicKey(ctx, recipient)
	if err != nil {
		return err
	}

	sealed, err := crypto.SealForRecipient(recipientBox, u.BoxPrivateKey, signed)
	if err != nil {
		return err
	}

	return u.Client.MessageSend(ctx, remote.MessageSendRequest{Recipient: recipient, Timestamp: now, Body: sealed})
}
