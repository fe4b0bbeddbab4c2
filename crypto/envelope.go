package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/scille/parsec-core/ids"
)

// ErrInvalidSignature is returned when a signed envelope fails ed25519
// verification or carries a mismatched author/timestamp.
var ErrInvalidSignature = errors.New("invalid signature")

// ErrDecryptionFailed is returned when secretbox authentication fails,
// meaning the ciphertext was tampered with or the wrong key was used.
var ErrDecryptionFailed = errors.New("decryption failed")

// Signed is the author envelope wrapped around every payload before
// encryption: author device id || timestamp || ed25519 signature || payload,
// exactly the format named in §6.
type Signed struct {
	Author    ids.DeviceID
	Timestamp time.Time
	Payload   []byte
}

// Sign produces the signed byte form of payload, authored by author at the
// given timestamp and signed with signingKey.
func Sign(author ids.DeviceID, timestamp time.Time, signingKey ed25519.PrivateKey, payload []byte) []byte {
	sig := ed25519.Sign(signingKey, payload)

	authorBytes := []byte(author.String())

	buf := make([]byte, 0, 2+len(authorBytes)+8+len(sig)+len(payload))
	buf = appendUint16Prefixed(buf, authorBytes)
	buf = appendUint64(buf, uint64(timestamp.UnixNano()))
	buf = append(buf, sig...)
	buf = append(buf, payload...)

	return buf
}

// VerifyAndParse verifies the ed25519 signature in raw against verifyKey and
// returns the parsed Signed envelope, with the embedded author and
// timestamp decoded from the envelope itself. Callers that need the
// embedded author/timestamp to agree with some other source (e.g. the
// ciphertext-declared values) must compare the returned Signed against it
// themselves.
func VerifyAndParse(raw []byte, verifyKey ed25519.PublicKey) (Signed, error) {
	authorBytes, rest, err := readUint16Prefixed(raw)
	if err != nil {
		return Signed{}, errors.Wrap(err, "malformed envelope")
	}

	ts, rest, err := readUint64(rest)
	if err != nil {
		return Signed{}, errors.Wrap(err, "malformed envelope")
	}

	if len(rest) < ed25519.SignatureSize {
		return Signed{}, errors.New("malformed envelope: truncated signature")
	}

	sig := rest[:ed25519.SignatureSize]
	payload := rest[ed25519.SignatureSize:]

	if !ed25519.Verify(verifyKey, payload, sig) {
		return Signed{}, ErrInvalidSignature
	}

	author, err := ids.ParseDeviceID(string(authorBytes))
	if err != nil {
		return Signed{}, errors.Wrap(ErrInvalidSignature, err.Error())
	}

	return Signed{
		Author:    author,
		Timestamp: time.Unix(0, int64(ts)).UTC(),
		Payload:   payload,
	}, nil
}

// Seal symmetrically encrypts data (normally the output of Sign) under key,
// matching the secretbox (xsalsa20poly1305) scheme of §6.
func Seal(key SecretKey, data []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, errors.Wrap(err, "generate nonce")
	}

	out := secretbox.Seal(nonce[:], data, &nonce, (*[32]byte)(&key))

	return out, nil
}

// Open decrypts and authenticates data produced by Seal under key.
func Open(key SecretKey, box []byte) ([]byte, error) {
	if len(box) < 24 {
		return nil, ErrDecryptionFailed
	}

	var nonce [24]byte
	copy(nonce[:], box[:24])

	out, ok := secretbox.Open(nil, box[24:], &nonce, (*[32]byte)(&key))
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return out, nil
}

// SignAndSeal is the composite operation applied to every outgoing manifest
// or message: sign then encrypt.
func SignAndSeal(author ids.DeviceID, timestamp time.Time, signingKey ed25519.PrivateKey, key SecretKey, payload []byte) ([]byte, error) {
	return Seal(key, Sign(author, timestamp, signingKey, payload))
}

// OpenAndVerify is the composite operation applied to every incoming
// manifest or message: decrypt then verify.
func OpenAndVerify(key SecretKey, box []byte, verifyKey ed25519.PublicKey) (Signed, error) {
	raw, err := Open(key, box)
	if err != nil {
		return Signed{}, err
	}

	return VerifyAndParse(raw, verifyKey)
}

// PeekEnvelope recovers the author and timestamp embedded in a signed
// envelope without verifying the signature, used to decide which verify key
// to fetch before VerifyAndParse can run.
func PeekEnvelope(raw []byte) (Signed, error) {
	authorBytes, rest, err := readUint16Prefixed(raw)
	if err != nil {
		return Signed{}, errors.Wrap(err, "malformed envelope")
	}

	ts, rest, err := readUint64(rest)
	if err != nil {
		return Signed{}, errors.Wrap(err, "malformed envelope")
	}

	if len(rest) < ed25519.SignatureSize {
		return Signed{}, errors.New("malformed envelope: truncated signature")
	}

	author, err := ids.ParseDeviceID(string(authorBytes))
	if err != nil {
		return Signed{}, errors.Wrap(err, "malformed envelope: bad author")
	}

	return Signed{
		Author:    author,
		Timestamp: time.Unix(0, int64(ts)).UTC(),
		Payload:   rest[ed25519.SignatureSize:],
	}, nil
}

func appendUint16Prefixed(buf, data []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(data)))

	buf = append(buf, l[:]...)
	buf = append(buf, data...)

	return buf
}

func readUint16Prefixed(buf []byte) (data, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, nil, errors.New("truncated length prefix")
	}

	l := binary.BigEndian.Uint16(buf[:2])
	buf = buf[2:]

	if len(buf) < int(l) {
		return nil, nil, errors.New("truncated field")
	}

	return buf[:l], buf[l:], nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)

	return append(buf, b[:]...)
}

func readUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, errors.New("truncated timestamp")
	}

	return binary.BigEndian.Uint64(buf[:8]), buf[8:], nil
}
