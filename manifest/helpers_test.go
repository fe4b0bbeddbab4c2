package manifest

import "github.com/scille/parsec-core/crypto"

func generateTestKey() (crypto.SecretKey, error) {
	return crypto.GenerateSecretKey()
}
