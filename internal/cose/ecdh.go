// ABOUTME: X25519 key agreement for delivering secrets to a requesting client
// ABOUTME: The server scalar is MAC(random, nonce) and never reused

package cose

import (
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
)

// X25519 computes the shared secret between secret and peer, and the public
// key belonging to secret. Low-order peer points are rejected.
func X25519(secret, peer [32]byte) (shared, public [32]byte, err error) {
	s, err := curve25519.X25519(secret[:], peer[:])
	if err != nil {
		return shared, public, fmt.Errorf("%w: x25519: %v", ErrCryptoFailure, err)
	}
	public, err = X25519PublicKey(secret)
	if err != nil {
		return shared, public, err
	}
	copy(shared[:], s)
	return shared, public, nil
}

// ServerExchange draws 32 fresh bytes from random, MACs them with nonce to
// form an ephemeral X25519 scalar and agrees a secret with clientPub. The
// returned public key is sent back so the client can derive the same secret.
func ServerExchange(random io.Reader, clientPub [32]byte, nonce [NonceSize]byte) (shared, serverPub [32]byte, err error) {
	var seed [32]byte
	if _, err := io.ReadFull(random, seed[:]); err != nil {
		return shared, serverPub, fmt.Errorf("reading randomness: %w", err)
	}
	return X25519(MACSHA3(seed[:], nonce[:]), clientPub)
}

// X25519PublicKey returns the public key for an X25519 scalar.
func X25519PublicKey(secret [32]byte) ([32]byte, error) {
	var out [32]byte
	p, err := curve25519.X25519(secret[:], curve25519.Basepoint)
	if err != nil {
		return out, fmt.Errorf("%w: x25519 base: %v", ErrCryptoFailure, err)
	}
	copy(out[:], p)
	return out, nil
}
