package userfs

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/remote"
	"github.com/scille/parsec-core/storage"
)

// fakeServer stands in for the whole backend (vlobs, blocks, role chains,
// and the inter-user message channel), shared by every simulated user's
// UserFS.Client in a test, mirroring remote.fakeClient's in-memory style.
type storedVlob struct {
	Blob      []byte
	Timestamp time.Time
}

type fakeServer struct {
	vlobs     map[ids.EntryID][]storedVlob
	roleCerts map[ids.RealmID][][]byte
	blocks    map[ids.BlockID][]byte
	messages  map[ids.UserID][]remote.Message

	sessionAuthor ids.DeviceID
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		vlobs:     map[ids.EntryID][]storedVlob{},
		roleCerts: map[ids.RealmID][][]byte{},
		blocks:    map[ids.BlockID][]byte{},
		messages:  map[ids.UserID][]remote.Message{},
	}
}

func (f *fakeServer) VlobCreate(ctx context.Context, req remote.VlobCreateRequest) (remote.Status, error) {
	if len(f.vlobs[req.VlobID]) != 0 {
		return remote.StatusAlreadyExists, nil
	}

	f.vlobs[req.VlobID] = []storedVlob{{Blob: req.Blob, Timestamp: req.Timestamp}}

	return remote.StatusOK, nil
}

func (f *fakeServer) VlobUpdate(ctx context.Context, req remote.VlobUpdateRequest) (remote.Status, error) {
	existing := f.vlobs[req.VlobID]
	if uint64(len(existing))+1 != req.Version {
		return remote.StatusBadVersion, nil
	}

	f.vlobs[req.VlobID] = append(existing, storedVlob{Blob: req.Blob, Timestamp: req.Timestamp})

	return remote.StatusOK, nil
}

func (f *fakeServer) VlobRead(ctx context.Context, req remote.VlobReadRequest) (remote.VlobReadResponse, error) {
	versions := f.vlobs[req.VlobID]
	if len(versions) == 0 {
		return remote.VlobReadResponse{Status: remote.StatusNotFound}, nil
	}

	idx := len(versions) - 1
	if req.Version != nil {
		idx = int(*req.Version) - 1
	}

	if idx < 0 || idx >= len(versions) {
		return remote.VlobReadResponse{Status: remote.StatusNotFound}, nil
	}

	return remote.VlobReadResponse{
		Status:    remote.StatusOK,
		Author:    f.sessionAuthor,
		Timestamp: versions[idx].Timestamp,
		Version:   uint64(idx + 1),
		Blob:      versions[idx].Blob,
	}, nil
}

func (f *fakeServer) VlobPollChanges(ctx context.Context, req remote.VlobPollChangesRequest) (remote.VlobPollChangesResponse, error) {
	return remote.VlobPollChangesResponse{Status: remote.StatusOK}, nil
}

func (f *fakeServer) BlockCreate(ctx context.Context, req remote.BlockCreateRequest) (remote.Status, error) {
	if _, ok := f.blocks[req.BlockID]; ok {
		return remote.StatusAlreadyExists, nil
	}

	f.blocks[req.BlockID] = req.Ciphertext

	return remote.StatusOK, nil
}

func (f *fakeServer) BlockRead(ctx context.Context, blockID ids.BlockID) (remote.BlockReadResponse, error) {
	data, ok := f.blocks[blockID]
	if !ok {
		return remote.BlockReadResponse{Status: remote.StatusNotFound}, nil
	}

	return remote.BlockReadResponse{Status: remote.StatusOK, Ciphertext: data}, nil
}

func (f *fakeServer) RealmCreate(ctx context.Context, req remote.RealmCreateRequest) (remote.Status, error) {
	realmID, err := realmIDOf(req.SelfRoleCertificate)
	if err != nil {
		return remote.StatusNotAllowed, nil
	}

	if len(f.roleCerts[realmID]) != 0 {
		return remote.StatusAlreadyExists, nil
	}

	f.roleCerts[realmID] = [][]byte{req.SelfRoleCertificate}

	return remote.StatusOK, nil
}

func (f *fakeServer) RealmUpdateRoles(ctx context.Context, req remote.RoleCertificateRequest) (remote.Status, error) {
	realmID, err := realmIDOf(req.RoleCertificate)
	if err != nil {
		return remote.StatusNotAllowed, nil
	}

	f.roleCerts[realmID] = append(f.roleCerts[realmID], req.RoleCertificate)

	return remote.StatusOK, nil
}

func (f *fakeServer) RealmGetRoleCertificates(ctx context.Context, realmID ids.RealmID) (remote.RoleCertificatesResponse, error) {
	return remote.RoleCertificatesResponse{Status: remote.StatusOK, RoleCertificates: f.roleCerts[realmID]}, nil
}

func (f *fakeServer) StartReencryptionMaintenance(ctx context.Context, req remote.MaintenanceBoundaryRequest) (remote.Status, error) {
	return remote.StatusOK, nil
}

func (f *fakeServer) FinishReencryptionMaintenance(ctx context.Context, req remote.MaintenanceBoundaryRequest) (remote.Status, error) {
	return remote.StatusOK, nil
}

func (f *fakeServer) GetReencryptionBatch(ctx context.Context, req remote.ReencryptionBatchGetRequest) (remote.ReencryptionBatchGetResponse, error) {
	return remote.ReencryptionBatchGetResponse{Status: remote.StatusOK}, nil
}

func (f *fakeServer) SaveReencryptionBatch(ctx context.Context, req remote.ReencryptionBatchSaveRequest) (remote.ReencryptionBatchSaveResponse, error) {
	return remote.ReencryptionBatchSaveResponse{Status: remote.StatusOK}, nil
}

func (f *fakeServer) MessageGet(ctx context.Context, req remote.MessageGetRequest) (remote.MessageGetResponse, error) {
	all := f.messages[f.sessionAuthor.UserID]

	var out []remote.Message
	for _, m := range all {
		if m.Offset > req.Offset {
			out = append(out, m)
		}
	}

	return remote.MessageGetResponse{Status: remote.StatusOK, Messages: out}, nil
}

func (f *fakeServer) MessageSend(ctx context.Context, req remote.MessageSendRequest) error {
	queue := f.messages[req.Recipient]
	f.messages[req.Recipient] = append(queue, remote.Message{
		Offset:    uint64(len(queue)) + 1,
		Sender:    f.sessionAuthor,
		Timestamp: req.Timestamp,
		Body:      req.Body,
	})

	return nil
}

func realmIDOf(cert []byte) (ids.RealmID, error) {
	signed, err := crypto.PeekEnvelope(cert)
	if err != nil {
		return ids.RealmID{}, err
	}

	var payload struct {
		RealmID ids.RealmID `json:"realm_id"`
	}

	if err := json.Unmarshal(signed.Payload, &payload); err != nil {
		return ids.RealmID{}, err
	}

	return payload.RealmID, nil
}

// asClientFor returns a *fakeServer-backed RealmClient view whose MessageGet
// reads the given user's queue; every other RPC is realm-scoped already and
// needs no per-user view.
type scopedClient struct {
	*fakeServer
	user ids.UserID
}

func (c *scopedClient) MessageGet(ctx context.Context, req remote.MessageGetRequest) (remote.MessageGetResponse, error) {
	all := c.fakeServer.messages[c.user]

	var out []remote.Message
	for _, m := range all {
		if m.Offset > req.Offset {
			out = append(out, m)
		}
	}

	return remote.MessageGetResponse{Status: remote.StatusOK, Messages: out}, nil
}

// fakeDirectory resolves verify/box keys across every simulated user in a
// test, standing in for the Remote Devices Manager + a user directory
// service.
type fakeDirectory struct {
	verify map[ids.DeviceID]ed25519.PublicKey
	box    map[ids.UserID]crypto.BoxPublicKey
}

func (d *fakeDirectory) VerifyKey(ctx context.Context, device ids.DeviceID, at time.Time) (ed25519.PublicKey, error) {
	k, ok := d.verify[device]
	if !ok {
		return nil, errNoSuchDevice
	}

	return k, nil
}

func (d *fakeDirectory) UserBoxPublicKey(ctx context.Context, user ids.UserID) (crypto.BoxPublicKey, error) {
	k, ok := d.box[user]
	if !ok {
		return crypto.BoxPublicKey{}, errNoSuchUser
	}

	return k, nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const (
	errNoSuchDevice = testErr("no such device")
	errNoSuchUser   = testErr("no such user")
)

// testUser bundles one simulated device's full identity plus its UserFS.
type testUser struct {
	UserFS *UserFS
	Device ids.DeviceID
}

// newTestFleet builds a shared fakeServer/fakeDirectory and one UserFS per
// named user, each with its own freshly placeholder-seeded user manifest.
func newTestFleet(t *testing.T, userNames ...string) (*fakeServer, map[string]*testUser) {
	t.Helper()

	server := newFakeServer()
	directory := &fakeDirectory{
		verify: map[ids.DeviceID]ed25519.PublicKey{},
		box:    map[ids.UserID]crypto.BoxPublicKey{},
	}

	users := map[string]*testUser{}

	for _, name := range userNames {
		device := ids.DeviceID{UserID: ids.UserID(name), DeviceName: "laptop"}

		_, signingKey, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		directory.verify[device] = signingKey.Public().(ed25519.PublicKey)

		boxPub, boxPriv, err := crypto.GenerateBoxKeyPair()
		require.NoError(t, err)
		directory.box[device.UserID] = boxPub

		userManifestID := ids.NewEntryID()

		userRealmKey, err := crypto.GenerateSecretKey()
		require.NoError(t, err)

		dir := t.TempDir()
		store, err := storage.Open(filepath.Join(dir, "device.db"), storage.Options{})
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		now := time.Now()
		placeholder := manifest.NewPlaceholder(manifest.UserManifest{
			Base:       manifest.Base{ID: userManifestID, Created: now, Updated: now},
			Workspaces: nil,
		})
		require.NoError(t, store.SetManifest(userManifestID, placeholder))

		u := &UserFS{
			Store:              store,
			Client:             &scopedClient{fakeServer: server, user: device.UserID},
			Directory:          directory,
			UserManifestID:     userManifestID,
			UserRealmKey:       userRealmKey,
			EncryptionRevision: 1,
			Author:             device,
			SigningKey:         signingKey,
			BoxPrivateKey:      boxPriv,
		}

		users[name] = &testUser{UserFS: u, Device: device}
	}

	return server, users
}

// withSessionAuthor runs fn with the server's session author set to device,
// standing in for the authenticated-session binding of §6 (this fake has
// only one "connection" in play at a time).
func withSessionAuthor(server *fakeServer, device ids.DeviceID, fn func()) {
	server.sessionAuthor = device
	fn()
}

func TestWorkspaceCreateRegistersPlaceholder(t *testing.T) {
	_, users := newTestFleet(t, "alice")
	alice := users["alice"].UserFS
	ctx := context.Background()

	wsID, err := alice.WorkspaceCreate(ctx, "shared-docs")
	require.NoError(t, err)

	loc, err := alice.Store.GetManifest(alice.UserManifestID)
	require.NoError(t, err)

	entry, ok := loc.User().FindWorkspace(wsID)
	require.True(t, ok)
	require.Equal(t, ids.EntryName("shared-docs"), entry.Name)
	require.Equal(t, manifest.RoleOwner, entry.Role)

	wsLoc, err := alice.Store.GetManifest(wsID)
	require.NoError(t, err)
	require.True(t, wsLoc.IsPlaceholder)
}

func TestWorkspaceRenamePreservesIDAndKey(t *testing.T) {
	_, users := newTestFleet(t, "alice")
	alice := users["alice"].UserFS
	ctx := context.Background()

	wsID, err := alice.WorkspaceCreate(ctx, "shared-docs")
	require.NoError(t, err)

	require.NoError(t, alice.WorkspaceRename(ctx, wsID, "renamed"))

	loc, err := alice.Store.GetManifest(alice.UserManifestID)
	require.NoError(t, err)

	entry, ok := loc.User().FindWorkspace(wsID)
	require.True(t, ok)
	require.Equal(t, ids.EntryName("renamed"), entry.Name)
}

func TestWorkspaceShareGrantsAccessAndBobCanProcessMessage(t *testing.T) {
	server, users := newTestFleet(t, "alice", "bob")
	alice := users["alice"].UserFS
	bob := users["bob"].UserFS
	ctx := context.Background()

	wsID, err := alice.WorkspaceCreate(ctx, "shared-docs")
	require.NoError(t, err)

	withSessionAuthor(server, users["alice"].Device, func() {
		err = alice.WorkspaceShare(ctx, wsID, users["bob"].Device.UserID, manifest.RoleReader)
	})
	require.NoError(t, err)

	var gotEvents []string
	bob.Events = eventSinkFunc(func(name string, payload any) { gotEvents = append(gotEvents, name) })

	withSessionAuthor(server, users["bob"].Device, func() {
		err = bob.ProcessLastMessages(ctx)
	})
	require.NoError(t, err)

	loc, err := bob.Store.GetManifest(bob.UserManifestID)
	require.NoError(t, err)

	entry, ok := loc.User().FindWorkspace(wsID)
	require.True(t, ok)
	require.Equal(t, manifest.RoleReader, entry.Role)
	require.Contains(t, gotEvents, "sharing.granted")
}

func TestWorkspaceShareRevokeIsReflectedAfterProcessing(t *testing.T) {
	server, users := newTestFleet(t, "alice", "bob")
	alice := users["alice"].UserFS
	bob := users["bob"].UserFS
	ctx := context.Background()

	wsID, err := alice.WorkspaceCreate(ctx, "shared-docs")
	require.NoError(t, err)

	withSessionAuthor(server, users["alice"].Device, func() {
		err = alice.WorkspaceShare(ctx, wsID, users["bob"].Device.UserID, manifest.RoleReader)
	})
	require.NoError(t, err)

	withSessionAuthor(server, users["bob"].Device, func() {
		err = bob.ProcessLastMessages(ctx)
	})
	require.NoError(t, err)

	// Revoke: the server-side role chain no longer lists bob, so the
	// revocation is confirmed rather than ignored as stale.
	withSessionAuthor(server, users["alice"].Device, func() {
		err = alice.WorkspaceShare(ctx, wsID, users["bob"].Device.UserID, manifest.RoleNone)
	})
	require.NoError(t, err)

	withSessionAuthor(server, users["bob"].Device, func() {
		err = bob.ProcessLastMessages(ctx)
	})
	require.NoError(t, err)

	loc, err := bob.Store.GetManifest(bob.UserManifestID)
	require.NoError(t, err)

	entry, ok := loc.User().FindWorkspace(wsID)
	require.True(t, ok)
	require.Equal(t, manifest.RoleNone, entry.Role)
}

func TestPingMessageEmitsPingedEvent(t *testing.T) {
	server, users := newTestFleet(t, "alice", "bob")
	alice := users["alice"].UserFS
	bob := users["bob"].UserFS
	ctx := context.Background()

	withSessionAuthor(server, users["alice"].Device, func() {
		require.NoError(t, alice.sendSharingMessage(ctx, users["bob"].Device.UserID, sharingMessage{Type: "ping"}))
	})

	var gotEvents []string
	bob.Events = eventSinkFunc(func(name string, payload any) { gotEvents = append(gotEvents, name) })

	withSessionAuthor(server, users["bob"].Device, func() {
		require.NoError(t, bob.ProcessLastMessages(ctx))
	})

	require.Contains(t, gotEvents, "pinged")
}

func TestUserFSSyncUploadsFreshPlaceholderUserManifest(t *testing.T) {
	server, users := newTestFleet(t, "alice")
	alice := users["alice"].UserFS
	ctx := context.Background()

	withSessionAuthor(server, users["alice"].Device, func() {
		require.NoError(t, alice.Sync(ctx))
	})

	require.Len(t, server.vlobs[alice.UserManifestID], 1)

	loc, err := alice.Store.GetManifest(alice.UserManifestID)
	require.NoError(t, err)
	require.False(t, loc.NeedSync)
}

type eventSinkFunc func(name string, payload any)

func (f eventSinkFunc) Emit(name string, payload any) { f(name, payload) }
