package util

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivedKeyLength = 32

var derivationSalt = []byte("showcase:key-derivation:v1")

// DeriveKey expands secret into a 32-byte subkey bound to purpose. Distinct
// purposes yield independent keys from the same server secret.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("deriving %s key: empty secret", purpose)
	}
	r := hkdf.New(sha256.New, secret, derivationSalt, []byte(purpose))
	k := make([]byte, derivedKeyLength)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return k, nil
}
