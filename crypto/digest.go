package crypto

import "crypto/sha256"

// Digest is the hash of a block's plaintext, carried in BlockAccess and
// verified by the Remote Loader after every download.
type Digest [sha256.Size]byte

// ComputeDigest hashes plaintext block content.
func ComputeDigest(plaintext []byte) Digest {
	return sha256.Sum256(plaintext)
}

// MarshalJSON encodes the digest as unpadded base64.
func (d Digest) MarshalJSON() ([]byte, error) {
	return marshalFixedBytes(d[:])
}

// UnmarshalJSON decodes the digest from unpadded base64.
func (d *Digest) UnmarshalJSON(data []byte) error {
	return unmarshalFixedBytes(data, d[:])
}

func (d Digest) String() string {
	const hextable = "0123456789abcdef"

	out := make([]byte, 0, len(d)*2)
	for _, b := range d {
		out = append(out, hextable[b>>4], hextable[b&0x0f])
	}

	return string(out)
}
