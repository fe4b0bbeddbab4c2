package userfs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/events"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
	"github.com/scille/parsec-core/remote"
)

// EventSink receives the local event taxonomy named in §6; nil is a valid
// UserFS.Events value (events are then simply not emitted).
type EventSink interface {
	Emit(name string, payload any)
}

// ProcessLastMessages implements §4.3's message monitor: fetches inbound
// messages with offset > last_processed_message and processes them in order.
// Each message's own user-manifest change is stored first; the cursor is then
// advanced to that message's offset by a separate user-manifest write, so the
// two are not one atomic update and a failure between them leaves the
// message to be processed again on the next call.
func (u *UserFS) ProcessLastMessages(ctx context.Context) error {
	loc, err := u.Store.GetManifest(u.UserManifestID)
	if err != nil {
		return err
	}

	cursor := loc.User().LastProcessedMessage

	resp, err := u.Client.MessageGet(ctx, remote.MessageGetRequest{Offset: cursor})
	if err != nil {
		return err
	}

	if resp.Status != remote.StatusOK {
		return remote.ErrForStatus(resp.Status, "message_get")
	}

	for _, m := range resp.Messages {
		if err := u.processOneMessage(ctx, m); err != nil {
			return err
		}

		if err := u.updateUserManifest(ctx, func(um manifest.UserManifest) manifest.UserManifest {
			if m.Offset > um.LastProcessedMessage {
				um.LastProcessedMessage = m.Offset
			}

			return um
		}); err != nil {
			return err
		}
	}

	return nil
}

func (u *UserFS) processOneMessage(ctx context.Context, m remote.Message) error {
	senderBox, err := u.Directory.UserBoxPublicKey(ctx, m.Sender.UserID)
	if err != nil {
		return errors.Wrap(err, "resolve sender box key")
	}

	signed, err := crypto.OpenFromSender(u.BoxPrivateKey, senderBox, m.Body)
	if err != nil {
		return errors.Wrap(err, "open sharing message")
	}

	verifyKey, err := u.Directory.VerifyKey(ctx, m.Sender, m.Timestamp)
	if err != nil {
		return errors.Wrap(err, "resolve sender verify key")
	}

	parsed, err := crypto.VerifyAndParse(signed, verifyKey)
	if err != nil {
		return errors.Wrap(err, "verify sharing message signature")
	}

	var msg sharingMessage
	if err := json.Unmarshal(parsed.Payload, &msg); err != nil {
		return errors.Wrap(err, "decode sharing message")
	}

	switch msg.Type {
	case "granted":
		return u.handleSharingGranted(ctx, m.Sender, msg)
	case "revoked":
		return u.handleSharingRevoked(ctx, m.Sender, msg)
	case "ping":
		if u.Events != nil {
			u.Events.Emit(string(events.Pinged), events.PingedPayload{Origin: m.Sender})
		}

		return nil
	default:
		return errors.Errorf("unknown sharing message type %q", msg.Type)
	}
}

// handleSharingGranted verifies the grant against a fresh server role query
// (never trusting the message itself) before materializing or updating the
// local WorkspaceEntry, per §4.3.
func (u *UserFS) handleSharingGranted(ctx context.Context, sender ids.DeviceID, msg sharingMessage) error {
	roles, err := u.loader().LoadRealmRoles(ctx, ids.RealmID(msg.ID))
	if err != nil {
		return err
	}

	if !roles[sender.UserID].IsOwnerOrManager() {
		return errors.Errorf("sharing.granted from %s who is not OWNER/MANAGER of %s", sender, msg.ID)
	}

	myRole, ok := roles[u.Author.UserID]
	if !ok {
		return errors.Errorf("sharing.granted but server reports no role for us in %s", msg.ID)
	}

	if msg.Key == nil {
		return errors.New("sharing.granted message carries no key")
	}

	now := time.Now()

	var previous *manifest.WorkspaceEntry
	var updated manifest.WorkspaceEntry

	err = u.updateUserManifest(ctx, func(um manifest.UserManifest) manifest.UserManifest {
		if existing, ok := um.FindWorkspace(msg.ID); ok {
			previous = &existing

			for i := range um.Workspaces {
				if um.Workspaces[i].ID == msg.ID {
					um.Workspaces[i].Key = *msg.Key
					um.Workspaces[i].Role = myRole
					um.Workspaces[i].RoleCachedOn = now
					um.Workspaces[i].Name = existing.Name
					updated = um.Workspaces[i]
				}
			}

			return um
		}

		updated = manifest.WorkspaceEntry{
			Name:               msg.Name,
			ID:                 msg.ID,
			Key:                *msg.Key,
			EncryptionRevision: 1,
			EncryptedOn:        now,
			RoleCachedOn:       now,
			Role:               myRole,
		}
		um.Workspaces = append(um.Workspaces, updated)

		return um
	})
	if err != nil {
		return err
	}

	if u.Events != nil {
		name := events.SharingGranted
		if previous != nil {
			name = events.SharingUpdated
		}

		u.Events.Emit(string(name), events.SharingPayload{NewEntry: updated, PreviousEntry: previous})
	}

	return nil
}

// handleSharingRevoked confirms the revocation against a fresh role query;
// a stale revocation (we still have access) is ignored, per §4.3.
func (u *UserFS) handleSharingRevoked(ctx context.Context, sender ids.DeviceID, msg sharingMessage) error {
	roles, err := u.loader().LoadRealmRoles(ctx, ids.RealmID(msg.ID))
	if err != nil {
		return err
	}

	if _, stillHaveAccess := roles[u.Author.UserID]; stillHaveAccess {
		return nil
	}

	now := time.Now()

	var previous *manifest.WorkspaceEntry
	var updated manifest.WorkspaceEntry

	err = u.updateUserManifest(ctx, func(um manifest.UserManifest) manifest.UserManifest {
		for i := range um.Workspaces {
			if um.Workspaces[i].ID == msg.ID {
				existing := um.Workspaces[i]
				previous = &existing

				um.Workspaces[i].Role = manifest.RoleNone
				um.Workspaces[i].RoleCachedOn = now
				updated = um.Workspaces[i]
			}
		}

		return um
	})
	if err != nil {
		return err
	}

	if u.Events != nil && previous != nil {
		u.Events.Emit(string(events.SharingRevoked), events.SharingPayload{NewEntry: updated, PreviousEntry: previous})
	}

	return nil
}
