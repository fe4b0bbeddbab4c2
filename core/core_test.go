package core

import (
	"context"
	"crypto/ed25519"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scille/parsec-core/config"
	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/remote"
)

// fakeClient embeds a nil remote.RealmClient and overrides only the two
// RPCs Core.Run's monitors actually call absent any real sync traffic:
// role certificates (the connection probe) and poll_changes (the realm
// watcher). Any other method panics on a nil-embedded call, which is fine
// since these tests never exercise message or sync plumbing.
type fakeClient struct {
	remote.RealmClient
}

// RealmGetRoleCertificates answers with an empty chain, which
// realm.ValidateChain accepts as a (vacuous) valid realm with no members
// yet. Good enough to make the connection probe succeed without needing a
// full self-signed certificate fixture.
func (f *fakeClient) RealmGetRoleCertificates(ctx context.Context, realmID ids.RealmID) (remote.RoleCertificatesResponse, error) {
	return remote.RoleCertificatesResponse{Status: remote.StatusOK}, nil
}

func (f *fakeClient) VlobPollChanges(ctx context.Context, req remote.VlobPollChangesRequest) (remote.VlobPollChangesResponse, error) {
	return remote.VlobPollChangesResponse{Status: remote.StatusOK, CurrentCheckpoint: req.LastCheckpoint}, nil
}

type fakeDirectory struct {
	verifyKey ed25519.PublicKey
	boxKey    crypto.BoxPublicKey
}

func (d *fakeDirectory) VerifyKey(ctx context.Context, device ids.DeviceID, at time.Time) (ed25519.PublicKey, error) {
	return d.verifyKey, nil
}

func (d *fakeDirectory) UserBoxPublicKey(ctx context.Context, user ids.UserID) (crypto.BoxPublicKey, error) {
	return d.boxKey, nil
}

func newTestSetup(t *testing.T) (config.Device, *fakeClient, *fakeDirectory) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	boxPub, boxPriv, err := crypto.GenerateBoxKeyPair()
	require.NoError(t, err)

	manifestKey, err := crypto.GenerateSecretKey()
	require.NoError(t, err)

	localKey, err := crypto.GenerateSecretKey()
	require.NoError(t, err)

	device := config.Device{
		Author:            ids.DeviceID{UserID: "alice", DeviceName: "laptop"},
		SigningKey:        priv,
		UserPrivateKey:    boxPriv,
		UserManifestID:    ids.NewEntryID(),
		UserManifestKey:   manifestKey,
		LocalSymmetricKey: localKey,
	}

	client := &fakeClient{}
	directory := &fakeDirectory{verifyKey: pub, boxKey: boxPub}

	return device, client, directory
}

func TestOpenBuildsWiredUserFS(t *testing.T) {
	device, client, directory := newTestSetup(t)

	c, err := Open(filepath.Join(t.TempDir(), "device.db"), device, client, directory)
	require.NoError(t, err)
	defer c.Close()

	require.Equal(t, device.Author, c.Users.Author)
	require.Equal(t, device.UserManifestID, c.Users.UserManifestID)
	require.NotNil(t, c.Events)
	require.NotNil(t, c.Store)
}

func TestRunExitsCleanlyOnContextCancel(t *testing.T) {
	device, client, directory := newTestSetup(t)

	c, err := Open(filepath.Join(t.TempDir(), "device.db"), device, client, directory,
		WithConnectionKeepAlive(5*time.Millisecond),
		WithMessagePollInterval(5*time.Millisecond),
		WithRealmPollInterval(5*time.Millisecond),
		WithSyncDebounce(5*time.Millisecond),
	)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after context cancellation")
	}
}
