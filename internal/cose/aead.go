// ABOUTME: AES-256-GCM seal/open with a 12-byte nonce and appended 16-byte tag
// ABOUTME: Tag mismatch is reported as ErrCryptoFailure with no partial output

package cose

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// SealAES256GCM encrypts plaintext and appends the authentication tag.
func SealAES256GCM(key [KeySize]byte, nonce [NonceSize]byte, aad, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce[:], plaintext, aad), nil
}

// OpenAES256GCM authenticates and decrypts ciphertext produced by SealAES256GCM.
func OpenAES256GCM(key [KeySize]byte, nonce [NonceSize]byte, aad, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(make([]byte, 0, len(ciphertext)), nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return plaintext, nil
}

func newGCM(key [KeySize]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return aead, nil
}
