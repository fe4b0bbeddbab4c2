package crypto

import (
	"crypto/rand"

	"github.com/pkg/errors"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// BoxPublicKey and BoxPrivateKey are a device's curve25519 keypair used to
// encrypt sharing messages for a specific recipient (§4.3 "encrypted-for-
// recipient"), distinct from the ed25519 signing keypair used to author
// manifests and role certificates.
type BoxPublicKey [32]byte

// BoxPrivateKey is the private half of a BoxPublicKey.
type BoxPrivateKey [32]byte

// MarshalJSON encodes the key as unpadded base64.
func (k BoxPublicKey) MarshalJSON() ([]byte, error) { return marshalFixedBytes(k[:]) }

// UnmarshalJSON decodes the key from unpadded base64.
func (k *BoxPublicKey) UnmarshalJSON(data []byte) error { return unmarshalFixedBytes(data, k[:]) }

// GenerateBoxKeyPair returns a fresh random curve25519 keypair.
func GenerateBoxKeyPair() (BoxPublicKey, BoxPrivateKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return BoxPublicKey{}, BoxPrivateKey{}, errors.Wrap(err, "generate box keypair")
	}

	return BoxPublicKey(*pub), BoxPrivateKey(*priv), nil
}

// DeriveBoxKeyPair derives a device's box keypair from its master secret.
// Curve25519 keys are not HKDF output directly usable as a seed the way
// ed25519 is, so the KeyManager-derived bytes feed a deterministic
// box.GenerateKey-equivalent clamp instead.
func (km *KeyManager) DeriveBoxKeyPair(purpose []byte) (BoxPublicKey, BoxPrivateKey, error) {
	seed, err := km.Derive(purpose, 32)
	if err != nil {
		return BoxPublicKey{}, BoxPrivateKey{}, err
	}

	var priv [32]byte
	copy(priv[:], seed)

	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return BoxPublicKey{}, BoxPrivateKey{}, errors.Wrap(err, "derive box public key")
	}

	var pubArr [32]byte
	copy(pubArr[:], pub)

	return BoxPublicKey(pubArr), BoxPrivateKey(priv), nil
}

// SealForRecipient encrypts payload so only the holder of recipientPub's
// private key can open it, authenticated as coming from senderPriv's public
// counterpart (NaCl box / curve25519-xsalsa20-poly1305).
func SealForRecipient(recipientPub BoxPublicKey, senderPriv BoxPrivateKey, payload []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}

	pub := [32]byte(recipientPub)
	priv := [32]byte(senderPriv)

	out := box.Seal(nonce[:], payload, &nonce, &pub, &priv)

	return out, nil
}

// OpenFromSender decrypts a message produced by SealForRecipient.
func OpenFromSender(recipientPriv BoxPrivateKey, senderPub BoxPublicKey, sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, ErrDecryptionFailed
	}

	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	pub := [32]byte(senderPub)
	priv := [32]byte(recipientPriv)

	out, ok := box.Open(nil, sealed[24:], &nonce, &pub, &priv)
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return out, nil
}
