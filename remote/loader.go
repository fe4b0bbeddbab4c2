package remote

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/parsecerr"
	"github.com/scille/parsec-core/realm"
)

// RemoteManifest is a verified manifest as returned by the server, carrying
// the server envelope fields alongside the decoded payload so callers can
// check them against what the ciphertext itself claims (§4.2 load_manifest:
// "rejects if the declared version or author inside the ciphertext
// disagrees with the server envelope").
type RemoteManifest struct {
	Manifest  manifest.Manifest
	Author    ids.DeviceID
	Timestamp time.Time
	Version   uint64
}

// RemoteLoader is the sole component that speaks the realm protocol (§4.2):
// every byte leaving or entering the device is verified here.
type RemoteLoader struct {
	Client  RealmClient
	Devices DeviceDirectory

	RealmID            ids.RealmID
	EncryptionRevision uint32
	WorkspaceKey       crypto.SecretKey

	SigningKey ed25519.PrivateKey
	Author     ids.DeviceID
}

// LoadRealmRoles downloads the full role certificate chain and replays it,
// per §4.2.
func (l *RemoteLoader) LoadRealmRoles(ctx context.Context, realmID ids.RealmID) (map[ids.UserID]manifest.Role, error) {
	resp, err := l.Client.RealmGetRoleCertificates(ctx, realmID)
	if err != nil {
		return nil, parsecerr.New(parsecerr.Offline, "fetch role certificates", err)
	}

	if err := statusErr(resp.Status); err != nil {
		return nil, err
	}

	roles, err := realm.ValidateChain(ctx, resp.RoleCertificates, l.Devices)
	if err != nil {
		return nil, parsecerr.New(parsecerr.Crypto, "role certificate chain", err)
	}

	return roles, nil
}

// LoadBlock fetches, decrypts and digest-verifies one block, per §4.2
// load_block.
func (l *RemoteLoader) LoadBlock(ctx context.Context, access manifest.BlockAccess) ([]byte, error) {
	resp, err := l.Client.BlockRead(ctx, access.ID)
	if err != nil {
		return nil, parsecerr.New(parsecerr.Offline, "fetch block", err)
	}

	if resp.Status == StatusNotFound {
		return nil, parsecerr.New(parsecerr.NoAccess, "block not found on server", nil)
	}

	if err := statusErr(resp.Status); err != nil {
		return nil, err
	}

	plaintext, err := crypto.Open(access.Key, resp.Ciphertext)
	if err != nil {
		return nil, parsecerr.New(parsecerr.Crypto, "decrypt block", err)
	}

	if crypto.ComputeDigest(plaintext) != access.Digest {
		return nil, parsecerr.New(parsecerr.Crypto, "block digest mismatch", nil)
	}

	return plaintext, nil
}

// UploadBlock encrypts and uploads a block; a server-reported AlreadyExists
// is swallowed, matching the idempotent-retry rule of §4.2.
func (l *RemoteLoader) UploadBlock(ctx context.Context, access manifest.BlockAccess, plaintext []byte) error {
	if crypto.ComputeDigest(plaintext) != access.Digest {
		return parsecerr.New(parsecerr.Crypto, "upload_block: digest does not match declared access", nil)
	}

	ciphertext, err := crypto.Seal(access.Key, plaintext)
	if err != nil {
		return parsecerr.New(parsecerr.Crypto, "encrypt block", err)
	}

	status, err := l.Client.BlockCreate(ctx, BlockCreateRequest{
		BlockID:    access.ID,
		RealmID:    l.RealmID,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return parsecerr.New(parsecerr.Offline, "upload block", err)
	}

	if status == StatusAlreadyExists {
		return nil
	}

	return statusErr(status)
}

// LoadManifest fetches, decrypts, and verifies one manifest version, per
// §4.2 load_manifest.
func (l *RemoteLoader) LoadManifest(ctx context.Context, entryID ids.EntryID, version *uint64, timestamp *time.Time) (RemoteManifest, error) {
	resp, err := l.Client.VlobRead(ctx, VlobReadRequest{
		EncryptionRevision: l.EncryptionRevision,
		VlobID:             entryID,
		Version:            version,
		Timestamp:          timestamp,
	})
	if err != nil {
		return RemoteManifest{}, parsecerr.New(parsecerr.Offline, "fetch manifest", err)
	}

	if resp.Status == StatusNotFound {
		return RemoteManifest{}, parsecerr.New(parsecerr.NoAccess, "manifest not found on server", nil)
	}

	if err := statusErr(resp.Status); err != nil {
		return RemoteManifest{}, err
	}

	if version != nil && resp.Version != *version {
		return RemoteManifest{}, parsecerr.New(parsecerr.Crypto, "server returned a different version than requested", nil)
	}

	verifyKey, err := l.Devices.VerifyKey(ctx, resp.Author, resp.Timestamp)
	if err != nil {
		return RemoteManifest{}, parsecerr.New(parsecerr.Crypto, "resolve manifest author verify key", err)
	}

	signed, err := crypto.OpenAndVerify(l.WorkspaceKey, resp.Blob, verifyKey)
	if err != nil {
		return RemoteManifest{}, parsecerr.New(parsecerr.Crypto, "decrypt/verify manifest", err)
	}

	if signed.Author != resp.Author || !signed.Timestamp.Equal(resp.Timestamp) {
		return RemoteManifest{}, parsecerr.New(parsecerr.Crypto, "manifest envelope disagrees with server-declared author/timestamp", nil)
	}

	m, err := manifest.Decode(signed.Payload)
	if err != nil {
		return RemoteManifest{}, parsecerr.New(parsecerr.Crypto, "decode manifest payload", err)
	}

	if m.Meta().Version != resp.Version || (m.Meta().Author != nil && *m.Meta().Author != resp.Author) {
		return RemoteManifest{}, parsecerr.New(parsecerr.Crypto, "manifest payload disagrees with server envelope", nil)
	}

	return RemoteManifest{Manifest: m, Author: resp.Author, Timestamp: resp.Timestamp, Version: resp.Version}, nil
}

// UploadManifest serializes, signs, encrypts and pushes m, choosing
// vlob_create for version 1 and vlob_update otherwise, per §4.2
// upload_manifest.
func (l *RemoteLoader) UploadManifest(ctx context.Context, entryID ids.EntryID, m manifest.Manifest, now time.Time) error {
	payload, err := manifest.Encode(m)
	if err != nil {
		return parsecerr.New(parsecerr.Crypto, "encode manifest", err)
	}

	blob, err := crypto.SignAndSeal(l.Author, now, l.SigningKey, l.WorkspaceKey, payload)
	if err != nil {
		return parsecerr.New(parsecerr.Crypto, "sign/encrypt manifest", err)
	}

	version := m.Meta().Version

	var status Status

	if version <= 1 {
		status, err = l.Client.VlobCreate(ctx, VlobCreateRequest{
			RealmID:            l.RealmID,
			EncryptionRevision: l.EncryptionRevision,
			VlobID:             entryID,
			Timestamp:          now,
			Blob:               blob,
		})
	} else {
		status, err = l.Client.VlobUpdate(ctx, VlobUpdateRequest{
			EncryptionRevision: l.EncryptionRevision,
			VlobID:             entryID,
			Version:            version,
			Timestamp:          now,
			Blob:               blob,
		})
	}

	if err != nil {
		return parsecerr.New(parsecerr.Offline, "upload manifest", err)
	}

	switch status {
	case StatusOK, "":
		return nil
	case StatusAlreadyExists, StatusBadVersion:
		return parsecerr.New(parsecerr.RemoteSync, "concurrent write raced this upload", nil)
	case StatusInMaintenance:
		return parsecerr.New(parsecerr.InMaintenance, "realm is being reencrypted", nil)
	case StatusBadEncryptionRevision:
		return parsecerr.New(parsecerr.BadEncryptionRevision, "encryption revision advanced past this request", nil)
	default:
		return statusErr(status)
	}
}

// CreateRealm emits the realm-root self-signed role certificate, idempotent
// per §4.2 create_realm.
func (l *RemoteLoader) CreateRealm(ctx context.Context, selfCert []byte) error {
	status, err := l.Client.RealmCreate(ctx, RealmCreateRequest{SelfRoleCertificate: selfCert})
	if err != nil {
		return parsecerr.New(parsecerr.Offline, "create realm", err)
	}

	if status == StatusAlreadyExists {
		return nil
	}

	return statusErr(status)
}

// PollChanges fetches the set of vlobs updated since lastCheckpoint, per §6
// vlob_poll_changes.
func (l *RemoteLoader) PollChanges(ctx context.Context, lastCheckpoint uint64) (VlobPollChangesResponse, error) {
	resp, err := l.Client.VlobPollChanges(ctx, VlobPollChangesRequest{RealmID: l.RealmID, LastCheckpoint: lastCheckpoint})
	if err != nil {
		return VlobPollChangesResponse{}, parsecerr.New(parsecerr.Offline, "poll changes", err)
	}

	return resp, statusErr(resp.Status)
}
