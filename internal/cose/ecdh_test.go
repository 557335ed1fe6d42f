// ABOUTME: Tests for X25519 exchange symmetry and key delivery

package cose

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerExchange_Symmetry(t *testing.T) {
	clientSecret := testKey(t)
	clientPub, err := X25519PublicKey(clientSecret)
	require.NoError(t, err)

	nonce := testNonce(t)
	serverShared, serverPub, err := ServerExchange(rand.Reader, clientPub, nonce)
	require.NoError(t, err)

	clientShared, _, err := X25519(clientSecret, serverPub)
	require.NoError(t, err)
	assert.Equal(t, serverShared, clientShared)
}

func TestServerExchange_FreshScalarPerCall(t *testing.T) {
	clientSecret := testKey(t)
	clientPub, err := X25519PublicKey(clientSecret)
	require.NoError(t, err)
	nonce := testNonce(t)

	_, pub1, err := ServerExchange(rand.Reader, clientPub, nonce)
	require.NoError(t, err)
	_, pub2, err := ServerExchange(rand.Reader, clientPub, nonce)
	require.NoError(t, err)
	assert.NotEqual(t, pub1, pub2)
}

func TestServerExchange_DeterministicForFixedRandomness(t *testing.T) {
	clientSecret := testKey(t)
	clientPub, err := X25519PublicKey(clientSecret)
	require.NoError(t, err)
	nonce := testNonce(t)
	seed := bytes.Repeat([]byte{7}, 32)

	_, pub1, err := ServerExchange(bytes.NewReader(seed), clientPub, nonce)
	require.NoError(t, err)
	_, pub2, err := ServerExchange(bytes.NewReader(seed), clientPub, nonce)
	require.NoError(t, err)
	assert.Equal(t, pub1, pub2)

	expected := MACSHA3(seed, nonce[:])
	_, want, err := X25519(expected, clientPub)
	require.NoError(t, err)
	assert.Equal(t, want, pub1)
}

func TestServerExchange_DeliversWrappedKey(t *testing.T) {
	clientSecret := testKey(t)
	clientPub, err := X25519PublicKey(clientSecret)
	require.NoError(t, err)
	nonce := testNonce(t)
	kek := testKey(t)
	subject := []byte("alice")

	shared, serverPub, err := ServerExchange(rand.Reader, clientPub, nonce)
	require.NoError(t, err)
	wrapped, err := Marshal(WrapSymmetricKey(kek, []byte("kid")))
	require.NoError(t, err)
	sealed, err := EncodeEncrypt0(wrapped, shared, subject, nonce, nil)
	require.NoError(t, err)

	clientShared, _, err := X25519(clientSecret, serverPub)
	require.NoError(t, err)
	plain, err := DecodeEncrypt0(sealed, clientShared, subject)
	require.NoError(t, err)
	k, err := ParseKey(plain)
	require.NoError(t, err)
	got, err := UnwrapSymmetricKey(k)
	require.NoError(t, err)
	assert.Equal(t, kek, got)
}

func TestX25519_RejectsLowOrderPoint(t *testing.T) {
	var zero [32]byte
	_, _, err := X25519(testKey(t), zero)
	assert.ErrorIs(t, err, ErrCryptoFailure)
}

func TestServerExchange_ShortRandomness(t *testing.T) {
	var pub [32]byte
	_, _, err := ServerExchange(bytes.NewReader([]byte{1, 2}), pub, [NonceSize]byte{})
	assert.Error(t, err)
}
