// ABOUTME: Tests for COSE_Encrypt0 sealing, parsing and AAD binding
// ABOUTME: Covers round trips, tampering, prefix handling and iv validation

package cose

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) [KeySize]byte {
	t.Helper()
	var k [KeySize]byte
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	return k
}

func testNonce(t *testing.T) [NonceSize]byte {
	t.Helper()
	var n [NonceSize]byte
	_, err := rand.Read(n[:])
	require.NoError(t, err)
	return n
}

func TestEncrypt0_RoundTrip(t *testing.T) {
	key := testKey(t)
	aad := []byte("alice")

	for _, plaintext := range [][]byte{{}, []byte("x"), bytes.Repeat([]byte("secret"), 1000)} {
		nonce := testNonce(t)
		data, err := EncodeEncrypt0(plaintext, key, aad, nonce, nil)
		require.NoError(t, err)
		assert.Equal(t, byte(0xd0), data[0])

		got, err := DecodeEncrypt0(data, key, aad)
		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Equal(t, plaintext, got)
	}
}

func TestEncrypt0_HeadersAndKeyID(t *testing.T) {
	key := testKey(t)
	nonce := testNonce(t)

	data, err := EncodeEncrypt0([]byte("payload"), key, nil, nonce, []byte("kid-1"))
	require.NoError(t, err)

	msg, err := ParseEncrypt0(data)
	require.NoError(t, err)
	assert.Equal(t, int64(AlgA256GCM), msg.Protected.Alg)
	assert.Equal(t, nonce[:], msg.Unprotected.IV)
	assert.Equal(t, []byte("kid-1"), msg.KeyID())
	assert.Len(t, msg.Ciphertext, len("payload")+16)

	got, err := msg.Decrypt(key, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestEncrypt0_WrongAAD(t *testing.T) {
	key := testKey(t)
	data, err := EncodeEncrypt0([]byte("payload"), key, []byte("alice"), testNonce(t), nil)
	require.NoError(t, err)

	_, err = DecodeEncrypt0(data, key, []byte("bob"))
	assert.ErrorIs(t, err, ErrCryptoFailure)
}

func TestEncrypt0_WrongKey(t *testing.T) {
	data, err := EncodeEncrypt0([]byte("payload"), testKey(t), nil, testNonce(t), nil)
	require.NoError(t, err)

	_, err = DecodeEncrypt0(data, testKey(t), nil)
	assert.ErrorIs(t, err, ErrCryptoFailure)
}

func TestEncrypt0_TamperedCiphertext(t *testing.T) {
	key := testKey(t)
	data, err := EncodeEncrypt0([]byte("payload"), key, []byte("aad"), testNonce(t), nil)
	require.NoError(t, err)

	// The ciphertext and tag are the final bytes of the item.
	tampered := bytes.Clone(data)
	tampered[len(tampered)-1] ^= 0x01

	got, err := DecodeEncrypt0(tampered, key, []byte("aad"))
	assert.ErrorIs(t, err, ErrCryptoFailure)
	assert.Nil(t, got)
}

func TestEncrypt0_UntaggedInput(t *testing.T) {
	key := testKey(t)
	data, err := EncodeEncrypt0([]byte("payload"), key, nil, testNonce(t), nil)
	require.NoError(t, err)

	got, err := DecodeEncrypt0(data[1:], key, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestEncrypt0_BadIVLength(t *testing.T) {
	protected, err := Marshal(Header{Alg: AlgA256GCM})
	require.NoError(t, err)
	data, err := Marshal(cbor.Tag{Number: tagEncrypt0, Content: encrypt0Message{
		Protected:   protected,
		Unprotected: Header{IV: make([]byte, 8)},
		Ciphertext:  make([]byte, 32),
	}})
	require.NoError(t, err)

	_, err = ParseEncrypt0(data)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestEncrypt0_UnsupportedAlg(t *testing.T) {
	protected, err := Marshal(Header{Alg: 1})
	require.NoError(t, err)
	data, err := Marshal(encrypt0Message{
		Protected:   protected,
		Unprotected: Header{IV: make([]byte, NonceSize)},
		Ciphertext:  make([]byte, 32),
	})
	require.NoError(t, err)

	_, err = ParseEncrypt0(data)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestParseEncrypt0_Garbage(t *testing.T) {
	tests := [][]byte{nil, {0xd0}, []byte("not cbor"), {0x83, 0x01, 0x02, 0x03}}
	for _, data := range tests {
		_, err := ParseEncrypt0(data)
		assert.ErrorIs(t, err, ErrInvalidEncoding, "input %x", data)
	}
}
