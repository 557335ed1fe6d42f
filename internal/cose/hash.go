// ABOUTME: Hash, MAC and KDF helpers used by key derivation and delegation
// ABOUTME: HMAC-SHA3-256, SHA3-256, SHA-256 and HKDF-SHA256

package cose

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// MACSHA3 returns HMAC-SHA3-256(key, data).
func MACSHA3(key, data []byte) [32]byte {
	mac := hmac.New(sha3.New256, key)
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// SHA3 hashes the concatenation of parts with SHA3-256.
func SHA3(parts ...[]byte) [32]byte {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SHA3_224 hashes data with SHA3-224.
func SHA3_224(data []byte) [28]byte {
	return sha3.Sum224(data)
}

// SHA256 hashes the concatenation of parts with SHA-256.
func SHA256(parts ...[]byte) [32]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HKDF256 expands secret into n bytes with HKDF-SHA256.
func HKDF256(secret, salt, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, info), out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}
