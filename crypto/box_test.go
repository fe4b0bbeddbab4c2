package crypto

import "testing"

func TestSealForRecipientRoundTrip(t *testing.T) {
	recipientPub, recipientPriv, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}

	senderPub, senderPriv, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}

	payload := []byte("sharing message payload")

	sealed, err := SealForRecipient(recipientPub, senderPriv, payload)
	if err != nil {
		t.Fatalf("SealForRecipient: %v", err)
	}

	out, err := OpenFromSender(recipientPriv, senderPub, sealed)
	if err != nil {
		t.Fatalf("OpenFromSender: %v", err)
	}

	if string(out) != string(payload) {
		t.Fatalf("round-tripped payload = %q, want %q", out, payload)
	}
}

func TestOpenFromSenderRejectsWrongRecipient(t *testing.T) {
	recipientPub, _, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}

	_, wrongPriv, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}

	senderPub, senderPriv, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}

	sealed, err := SealForRecipient(recipientPub, senderPriv, []byte("secret"))
	if err != nil {
		t.Fatalf("SealForRecipient: %v", err)
	}

	if _, err := OpenFromSender(wrongPriv, senderPub, sealed); err == nil {
		t.Fatal("expected OpenFromSender to fail for the wrong recipient key")
	}
}

func TestDeriveBoxKeyPairIsStableAndDistinctPerPurpose(t *testing.T) {
	km := NewKeyManager([]byte("master-secret"), []byte("device-unique-id"))

	pubA, privA, err := km.DeriveBoxKeyPair([]byte("purpose-a"))
	if err != nil {
		t.Fatalf("DeriveBoxKeyPair: %v", err)
	}

	pubAAgain, privAAgain, err := km.DeriveBoxKeyPair([]byte("purpose-a"))
	if err != nil {
		t.Fatalf("DeriveBoxKeyPair: %v", err)
	}

	if pubA != pubAAgain || privA != privAAgain {
		t.Fatal("derivation is not stable across calls")
	}

	pubB, _, err := km.DeriveBoxKeyPair([]byte("purpose-b"))
	if err != nil {
		t.Fatalf("DeriveBoxKeyPair: %v", err)
	}

	if pubA == pubB {
		t.Fatal("distinct purposes must not derive the same box keypair")
	}
}

func TestDerivedBoxKeyPairCanSealAndOpen(t *testing.T) {
	km := NewKeyManager([]byte("master-secret"), []byte("device-unique-id"))

	pub, priv, err := km.DeriveBoxKeyPair([]byte("sharing"))
	if err != nil {
		t.Fatalf("DeriveBoxKeyPair: %v", err)
	}

	otherPub, otherPriv, err := GenerateBoxKeyPair()
	if err != nil {
		t.Fatalf("GenerateBoxKeyPair: %v", err)
	}

	sealed, err := SealForRecipient(pub, otherPriv, []byte("hi"))
	if err != nil {
		t.Fatalf("SealForRecipient: %v", err)
	}

	out, err := OpenFromSender(priv, otherPub, sealed)
	if err != nil {
		t.Fatalf("OpenFromSender: %v", err)
	}

	if string(out) != "hi" {
		t.Fatalf("got %q, want %q", out, "hi")
	}
}
