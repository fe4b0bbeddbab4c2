// Package config implements the on-disk device file of §6: an encrypted
// YAML document, keyed outside the file itself by a password, holding the
// device's signing key, user private key, user manifest id/key, and local
// symmetric key. This is the local device bootstrap SPEC_FULL.md §13
// supplements from original_source/local_device/utils.py: the file is sealed
// with crypto.Seal under a key scrypt derives from the password, and the
// keys inside are stored as they are, not derived.
package config

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
	"gopkg.in/yaml.v3"

	"github.com/scille/parsec-core/crypto"
	"github.com/scille/parsec-core/ids"
)

// Device is one user's local, decrypted device material.
type Device struct {
	Author ids.DeviceID

	SigningKey     ed25519.PrivateKey
	UserPrivateKey crypto.BoxPrivateKey

	UserManifestID  ids.EntryID
	UserManifestKey crypto.SecretKey

	LocalSymmetricKey crypto.SecretKey
}

// onDiskDevice is the plaintext YAML document, sealed before it ever
// touches disk. IDs and keys are stored in their textual/base64 forms so
// the array-shaped ids/crypto types need no yaml.Marshaler of their own.
type onDiskDevice struct {
	Author string `yaml:"author"`

	SigningKeySeed []byte `yaml:"signing_key_seed"`
	UserPrivateKey []byte `yaml:"user_private_key"`

	UserManifestID  string `yaml:"user_manifest_id"`
	UserManifestKey []byte `yaml:"user_manifest_key"`

	LocalSymmetricKey []byte `yaml:"local_symmetric_key"`
}

const (
	saltSize = 16

	// scrypt cost parameters, the interactive-login profile from the
	// original RFC 7914 recommendation.
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// deriveFileKey turns the user's password into the secretbox key the
// device file is sealed under, salted per-file so two devices sharing a
// password don't share a file key.
func deriveFileKey(password, salt []byte) (crypto.SecretKey, error) {
	raw, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return crypto.SecretKey{}, errors.Wrap(err, "derive device file key")
	}

	var k crypto.SecretKey
	copy(k[:], raw)

	return k, nil
}

// SaveDevice writes d to path as salt || secretbox(yaml(d)), encrypted
// under a key scrypt-derives from password.
func SaveDevice(path string, password []byte, d Device) error {
	disk := onDiskDevice{
		Author:            d.Author.String(),
		SigningKeySeed:    d.SigningKey.Seed(),
		UserPrivateKey:    append([]byte(nil), d.UserPrivateKey[:]...),
		UserManifestID:    d.UserManifestID.String(),
		UserManifestKey:   append([]byte(nil), d.UserManifestKey[:]...),
		LocalSymmetricKey: append([]byte(nil), d.LocalSymmetricKey[:]...),
	}

	plain, err := yaml.Marshal(disk)
	if err != nil {
		return errors.Wrap(err, "encode device file")
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return errors.Wrap(err, "generate device file salt")
	}

	key, err := deriveFileKey(password, salt)
	if err != nil {
		return err
	}

	sealed, err := crypto.Seal(key, plain)
	if err != nil {
		return errors.Wrap(err, "seal device file")
	}

	return os.WriteFile(path, append(salt, sealed...), 0o600)
}

// LoadDevice reads and decrypts the device file at path under password.
// A wrong password or a tampered file both fail decryption identically
// (crypto.ErrDecryptionFailed), never distinguishing the two to a caller.
func LoadDevice(path string, password []byte) (Device, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Device{}, errors.Wrap(err, "read device file")
	}

	if len(raw) < saltSize {
		return Device{}, errors.New("device file is truncated")
	}

	salt, sealed := raw[:saltSize], raw[saltSize:]

	key, err := deriveFileKey(password, salt)
	if err != nil {
		return Device{}, err
	}

	plain, err := crypto.Open(key, sealed)
	if err != nil {
		return Device{}, errors.Wrap(err, "decrypt device file")
	}

	var disk onDiskDevice
	if err := yaml.Unmarshal(plain, &disk); err != nil {
		return Device{}, errors.Wrap(err, "decode device file")
	}

	return deviceFromDisk(disk)
}

func deviceFromDisk(disk onDiskDevice) (Device, error) {
	author, err := ids.ParseDeviceID(disk.Author)
	if err != nil {
		return Device{}, errors.Wrap(err, "parse device author")
	}

	manifestID, err := ids.ParseEntryID(disk.UserManifestID)
	if err != nil {
		return Device{}, errors.Wrap(err, "parse user manifest id")
	}

	if len(disk.SigningKeySeed) != ed25519.SeedSize {
		return Device{}, errors.New("signing key seed has the wrong length")
	}

	var userPriv crypto.BoxPrivateKey
	if len(disk.UserPrivateKey) != len(userPriv) {
		return Device{}, errors.New("user private key has the wrong length")
	}

	copy(userPriv[:], disk.UserPrivateKey)

	var manifestKey, localKey crypto.SecretKey

	if len(disk.UserManifestKey) != len(manifestKey) || len(disk.LocalSymmetricKey) != len(localKey) {
		return Device{}, errors.New("device file key material has the wrong length")
	}

	copy(manifestKey[:], disk.UserManifestKey)
	copy(localKey[:], disk.LocalSymmetricKey)

	return Device{
		Author:            author,
		SigningKey:        ed25519.NewKeyFromSeed(disk.SigningKeySeed),
		UserPrivateKey:    userPriv,
		UserManifestID:    manifestID,
		UserManifestKey:   manifestKey,
		LocalSymmetricKey: localKey,
	}, nil
}
