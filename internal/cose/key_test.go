// ABOUTME: Tests for COSE_Key encoding and secret extraction

package cose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymmetricKey_RoundTrip(t *testing.T) {
	secret := testKey(t)
	data, err := Marshal(WrapSymmetricKey(secret, []byte("db-password")))
	require.NoError(t, err)

	k, err := ParseKey(data)
	require.NoError(t, err)
	assert.Equal(t, int64(KeyTypeSymmetric), k.KeyType)
	assert.Equal(t, int64(AlgA256GCM), k.Algorithm)
	assert.Equal(t, []byte("db-password"), k.KeyID)

	got, err := UnwrapSymmetricKey(k)
	require.NoError(t, err)
	assert.Equal(t, secret, got)
}

func TestSymmetricKey_LabelLayout(t *testing.T) {
	var secret [KeySize]byte
	data, err := Marshal(WrapSymmetricKey(secret, nil))
	require.NoError(t, err)

	var m map[int64]any
	require.NoError(t, Unmarshal(data, &m))
	assert.Equal(t, uint64(KeyTypeSymmetric), m[1])
	assert.Equal(t, uint64(AlgA256GCM), m[3])
	assert.Equal(t, secret[:], m[-1])
	assert.NotContains(t, m, int64(2))
}

func TestParseKey_OKPSecret(t *testing.T) {
	data, err := Marshal(map[int64]any{1: KeyTypeOKP, -1: 6, -4: []byte("private-scalar")})
	require.NoError(t, err)

	k, err := ParseKey(data)
	require.NoError(t, err)
	assert.Equal(t, []byte("private-scalar"), k.Secret)

	_, err = UnwrapSymmetricKey(k)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}

func TestParseKey_Invalid(t *testing.T) {
	missingKty, err := Marshal(map[int64]any{-1: []byte("k")})
	require.NoError(t, err)
	unknownKty, err := Marshal(map[int64]any{1: 9, -1: []byte("k")})
	require.NoError(t, err)
	shortSecret, err := Marshal(map[int64]any{1: KeyTypeSymmetric, -1: []byte("short")})
	require.NoError(t, err)

	for _, data := range [][]byte{missingKty, unknownKty, {0xff}} {
		_, err := ParseKey(data)
		assert.ErrorIs(t, err, ErrInvalidEncoding)
	}

	k, err := ParseKey(shortSecret)
	require.NoError(t, err)
	_, err = UnwrapSymmetricKey(k)
	assert.ErrorIs(t, err, ErrInvalidEncoding)
}
