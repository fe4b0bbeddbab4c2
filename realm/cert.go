// Package realm implements the realm roles half of §4.7: role certificate
// signing and chain replay. The four-step reencryption maintenance protocol
// is driven from the remote package (remote/reencryption.go).
package realm

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
	"github.com/scille/parsec-core/manifest"
)

// RoleCertificate is one append to a realm's role chain (§4.7 "Role changes
// are a single certificate append").
type RoleCertificate struct {
	Author    ids.DeviceID  `json:"author"`
	Timestamp time.Time     `json:"timestamp"`
	RealmID   ids.RealmID   `json:"realm_id"`
	User      ids.UserID    `json:"user"`
	Role      manifest.Role `json:"role"`
}

// Sign produces the signed, on-wire form of c, to be handed to
// remote.RealmClient.RealmCreate/RealmUpdateRoles.
func Sign(c RoleCertificate, signingKey ed25519.PrivateKey) ([]byte, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode role certificate")
	}

	return crypto.Sign(c.Author, c.Timestamp, signingKey, payload), nil
}

// VerifyKeyLookup resolves a device's verify key as of a point in time,
// backed by the Remote Devices Manager named in §4.2.
type VerifyKeyLookup interface {
	VerifyKey(ctx context.Context, device ids.DeviceID, at time.Time) (ed25519.PublicKey, error)
}

// ErrChainViolation marks any rule violation encountered while replaying a
// role certificate chain; per §4.2 a partial chain is never returned.
var ErrChainViolation = errors.New("role certificate chain violation")

// ValidateChain verifies and replays raw, a server-returned list of signed
// role certificates for one realm, in the order the server returned them
// (order is not trusted: they are re-sorted by embedded timestamp before
// replay). It enforces, in order:
//
//   - each certificate's signature verifies against its author's verify key;
//   - the first certificate is self-signed by its own subject (the realm's
//     initial owner);
//   - at every step the author currently holds OWNER (may set any role) or
//     MANAGER (may only set a role that is neither OWNER nor MANAGER).
//
// Any violation fails the whole computation.
func ValidateChain(ctx context.Context, raw [][]byte, lookup VerifyKeyLookup) (map[ids.UserID]manifest.Role, error) {
	certs := make([]RoleCertificate, 0, len(raw))

	for _, box := range raw {
		// The chain is transported as signed-but-not-encrypted blobs (role
		// certificates are not secret); parse without a verify key first to
		// recover the claimed author, then verify against that author's key.
		claimed, err := parseUnverified(box)
		if err != nil {
			return nil, errors.Wrap(ErrChainViolation, err.Error())
		}

		key, err := lookup.VerifyKey(ctx, claimed.Author, claimed.Timestamp)
		if err != nil {
			return nil, errors.Wrap(ErrChainViolation, "unknown certificate author")
		}

		signed, err := crypto.VerifyAndParse(box, key)
		if err != nil {
			return nil, errors.Wrap(ErrChainViolation, "signature verification failed")
		}

		var c RoleCertificate
		if err := json.Unmarshal(signed.Payload, &c); err != nil {
			return nil, errors.Wrap(ErrChainViolation, "malformed role certificate payload")
		}

		if signed.Author != c.Author || !signed.Timestamp.Equal(c.Timestamp) {
			return nil, errors.Wrap(ErrChainViolation, "envelope/payload author or timestamp mismatch")
		}

		certs = append(certs, c)
	}

	sort.Slice(certs, func(i, j int) bool { return certs[i].Timestamp.Before(certs[j].Timestamp) })

	roles := map[ids.UserID]manifest.Role{}

	for i, c := range certs {
		if i == 0 {
			if c.Author.UserID != c.User || c.Role != manifest.RoleOwner {
				return nil, errors.Wrap(ErrChainViolation, "first certificate is not a self-signed owner grant")
			}

			roles[c.User] = manifest.RoleOwner

			continue
		}

		authorRole := roles[c.Author.UserID]

		switch {
		case authorRole == manifest.RoleOwner:
			// OWNER may set any role, including another OWNER or a
			// revocation.
		case authorRole == manifest.RoleManager && !c.Role.IsOwnerOrManager() && c.Role != manifest.RoleOwner:
			// MANAGER may only grant/revoke non-OWNER, non-MANAGER roles.
		default:
			return nil, errors.Wrapf(ErrChainViolation, "author %s lacks authority to set role %q", c.Author, c.Role)
		}

		if c.Role == manifest.RoleNone {
			delete(roles, c.User)
		} else {
			roles[c.User] = c.Role
		}
	}

	return roles, nil
}

// parseUnverified recovers the author/timestamp embedded in a signed
// envelope without checking the signature, solely to know which verify key
// to fetch next.
func parseUnverified(box []byte) (crypto.Signed, error) {
	return crypto.PeekEnvelope(box)
}
