// Package crypto implements the cryptographic contract of §6: per-purpose
// key derivation from a device's master secret, symmetric secretbox sealing
// of manifests and messages, and ed25519 signing of the author envelope
// wrapped around every manifest version >= 1.
//
// The derivation scheme follows auth.KeyManager.DeriveKey from the teacher:
// HKDF-SHA256 over a master secret, salted by a per-device unique id and
// labelled by purpose, so unrelated subkeys can never be confused even if
// derived from the same master secret.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// SecretKey is a symmetric key used to seal a single block, a manifest, or a
// sharing message. Size matches golang.org/x/crypto/nacl/secretbox.
type SecretKey [32]byte

// MarshalJSON encodes the key as unpadded base64, matching the inline
// binary encoding ObjectID uses for its own binary payloads.
func (k SecretKey) MarshalJSON() ([]byte, error) {
	return marshalFixedBytes(k[:])
}

// UnmarshalJSON decodes the key from unpadded base64.
func (k *SecretKey) UnmarshalJSON(data []byte) error {
	return unmarshalFixedBytes(data, k[:])
}

func marshalFixedBytes(b []byte) ([]byte, error) {
	s := base64.RawURLEncoding.EncodeToString(b)
	return []byte(`"` + s + `"`), nil
}

func unmarshalFixedBytes(data, dst []byte) error {
	if len(data) < 2 {
		return errors.New("malformed fixed-size field")
	}

	s := string(data[1 : len(data)-1])

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return errors.Wrap(err, "decode fixed-size field")
	}

	if len(b) != len(dst) {
		return errors.Errorf("fixed-size field has wrong length: got %d want %d", len(b), len(dst))
	}

	copy(dst, b)

	return nil
}

// GenerateSecretKey returns a fresh random symmetric key.
func GenerateSecretKey() (SecretKey, error) {
	var k SecretKey
	if _, err := io.ReadFull(rand.Reader, k[:]); err != nil {
		return SecretKey{}, errors.Wrap(err, "generate secret key")
	}

	return k, nil
}

// KeyManager derives purpose-scoped subkeys from a device's master secret,
// the same shape as auth.KeyManager in the teacher: one master secret in,
// many independent-looking subkeys out, none of which can be used to
// recover the others or the master.
type KeyManager struct {
	masterSecret []byte
	uniqueID     []byte
}

// NewKeyManager constructs a KeyManager over the given master secret, salted
// by a per-device unique id (typically the device id's bytes).
func NewKeyManager(masterSecret, uniqueID []byte) *KeyManager {
	return &KeyManager{masterSecret: masterSecret, uniqueID: uniqueID}
}

// Derive computes a subkey of the requested length for the given purpose.
func (km *KeyManager) Derive(purpose []byte, length int) ([]byte, error) {
	out := make([]byte, length)

	r := hkdf.New(sha256.New, km.masterSecret, km.uniqueID, purpose)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Wrap(err, "derive key")
	}

	return out, nil
}

// DeriveSecretKey is Derive specialised to produce a SecretKey.
func (km *KeyManager) DeriveSecretKey(purpose []byte) (SecretKey, error) {
	raw, err := km.Derive(purpose, 32)
	if err != nil {
		return SecretKey{}, err
	}

	var k SecretKey
	copy(k[:], raw)

	return k, nil
}

// DeriveSigningKey derives an ed25519 signing keypair for purpose, using the
// derived 32 bytes as the seed (ed25519.NewKeyFromSeed).
func (km *KeyManager) DeriveSigningKey(purpose []byte) (ed25519.PrivateKey, error) {
	seed, err := km.Derive(purpose, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}

	return ed25519.NewKeyFromSeed(seed), nil
}

// Well-known derivation purposes, one per subkey the device needs.
var (
	PurposeDeviceSigningKey  = []byte("parsec/device-signing-key")
	PurposeUserPrivateKey    = []byte("parsec/user-private-key")
	PurposeLocalSymmetricKey = []byte("parsec/local-symmetric-key")
)
