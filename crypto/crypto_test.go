package crypto

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/scille/parsec-core/ids"
)

func TestKeyManagerDerivationIsStableAndDistinct(t *testing.T) {
	km := NewKeyManager([]byte("master-secret"), []byte("device-unique-id"))

	a, err := km.Derive([]byte("purpose-a"), 32)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	aAgain, err := km.Derive([]byte("purpose-a"), 32)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if string(a) != string(aAgain) {
		t.Fatalf("derivation is not stable across calls")
	}

	b, err := km.Derive([]byte("purpose-b"), 32)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if string(a) == string(b) {
		t.Fatalf("distinct purposes must not derive the same key")
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := GenerateSecretKey()
	if err != nil {
		t.Fatalf("GenerateSecretKey: %v", err)
	}

	box, err := Seal(key, []byte("hello parsec"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	out, err := Open(key, box)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if string(out) != "hello parsec" {
		t.Fatalf("round trip mismatch: %q", out)
	}
}

func TestOpenWrongKeyFails(t *testing.T) {
	key, _ := GenerateSecretKey()
	other, _ := GenerateSecretKey()

	box, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	if _, err := Open(other, box); err == nil {
		t.Fatalf("expected Open with wrong key to fail")
	}
}

func TestOpenTamperedCiphertextFails(t *testing.T) {
	key, _ := GenerateSecretKey()

	box, err := Seal(key, []byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	box[len(box)-1] ^= 0xff

	if _, err := Open(key, box); err == nil {
		t.Fatalf("expected Open of tampered ciphertext to fail")
	}
}

func TestSignAndSealRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	key, _ := GenerateSecretKey()
	author := ids.DeviceID{UserID: "alice", DeviceName: "laptop"}
	ts := time.Now().UTC().Truncate(time.Millisecond)

	box, err := SignAndSeal(author, ts, priv, key, []byte("payload-bytes"))
	if err != nil {
		t.Fatalf("SignAndSeal: %v", err)
	}

	signed, err := OpenAndVerify(key, box, pub)
	if err != nil {
		t.Fatalf("OpenAndVerify: %v", err)
	}

	if signed.Author != author {
		t.Fatalf("author mismatch: got %v, want %v", signed.Author, author)
	}

	if !signed.Timestamp.Equal(ts) {
		t.Fatalf("timestamp mismatch: got %v, want %v", signed.Timestamp, ts)
	}

	if string(signed.Payload) != "payload-bytes" {
		t.Fatalf("payload mismatch: %q", signed.Payload)
	}
}

func TestVerifyWrongSignerFails(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	otherPub, _, _ := ed25519.GenerateKey(nil)

	key, _ := GenerateSecretKey()
	author := ids.DeviceID{UserID: "alice", DeviceName: "laptop"}

	box, err := SignAndSeal(author, time.Now(), priv, key, []byte("payload"))
	if err != nil {
		t.Fatalf("SignAndSeal: %v", err)
	}

	if _, err := OpenAndVerify(key, box, otherPub); err == nil {
		t.Fatalf("expected verification against wrong key to fail")
	}
}

func TestComputeDigest(t *testing.T) {
	d1 := ComputeDigest([]byte("hello"))
	d2 := ComputeDigest([]byte("hello"))
	d3 := ComputeDigest([]byte("world"))

	if d1 != d2 {
		t.Fatalf("digest must be deterministic")
	}

	if d1 == d3 {
		t.Fatalf("digest must depend on content")
	}

	if len(d1.String()) != 64 {
		t.Fatalf("hex digest should be 64 chars, got %d", len(d1.String()))
	}
}
