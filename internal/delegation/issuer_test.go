// ABOUTME: Tests for delegation issuance and the signature stores
// ABOUTME: Redis behaviour runs against miniredis

package delegation

import (
	"context"
	"crypto/ed25519"
	"math"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cose-gateway/internal/keyring"
)

func newLocalSigner(t *testing.T) *keyring.LocalSigner {
	t.Helper()
	signer, err := keyring.NewLocalSigner(make([]byte, keyring.MinRootSeedSize), "test_key")
	require.NoError(t, err)
	return signer
}

func TestIssuer_IssueAndGet(t *testing.T) {
	ctx := context.Background()
	signer := newLocalSigner(t)
	issuer := NewIssuer(signer, NewMemoryStore(nil))

	id, err := FixedIdentity("gw", "payments", "ci")
	require.NoError(t, err)
	_, session := newSSHKey(t)
	exp := uint64(time.Now().Add(time.Hour).UnixNano())

	resp, err := issuer.Issue(ctx, id, session, exp)
	require.NoError(t, err)
	assert.Equal(t, exp, resp.Expiration)
	assert.Equal(t, id.Principal, resp.Principal)
	assert.Equal(t, id.Seed, resp.Seed)

	sd, err := issuer.Get(ctx, id.Seed, session, exp)
	require.NoError(t, err)
	assert.Equal(t, session, sd.Delegation.PublicKey)

	pub, err := signer.PublicKey(ctx, keyring.LabelDelegation, [][]byte{id.Seed})
	require.NoError(t, err)
	assert.NoError(t, VerifyEd25519(ed25519.PublicKey(pub), sd))

	// Get is keyed by the exact expiration.
	_, err = issuer.Get(ctx, id.Seed, session, exp+1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyEd25519_RejectsTamper(t *testing.T) {
	ctx := context.Background()
	signer := newLocalSigner(t)
	issuer := NewIssuer(signer, NewMemoryStore(nil))
	id, err := FixedIdentity("gw", "payments", "ci")
	require.NoError(t, err)
	exp := uint64(time.Now().Add(time.Hour).UnixNano())
	_, err = issuer.Issue(ctx, id, []byte("session"), exp)
	require.NoError(t, err)
	sd, err := issuer.Get(ctx, id.Seed, []byte("session"), exp)
	require.NoError(t, err)

	pub, err := signer.PublicKey(ctx, keyring.LabelDelegation, [][]byte{id.Seed})
	require.NoError(t, err)
	sd.Delegation.Expiration++
	assert.Error(t, VerifyEd25519(ed25519.PublicKey(pub), sd))
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := NewMemoryStore(func() time.Time { return now })
	hash := [32]byte{1}

	assert.ErrorIs(t, store.Put(ctx, []byte("seed"), hash, []byte("sig"), now), ErrExpired)

	require.NoError(t, store.Put(ctx, []byte("seed"), hash, []byte("sig"), now.Add(time.Minute)))
	sig, err := store.Get(ctx, []byte("seed"), hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("sig"), sig)

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, []byte("seed"), hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client, "cose:sig:")
	hash := [32]byte{2}

	require.NoError(t, store.Put(ctx, []byte("seed"), hash, []byte("sig"), time.Now().Add(time.Minute)))
	sig, err := store.Get(ctx, []byte("seed"), hash)
	require.NoError(t, err)
	assert.Equal(t, []byte("sig"), sig)
	assert.Len(t, mr.Keys(), 1)
	assert.Contains(t, mr.Keys()[0], "cose:sig:")

	mr.FastForward(2 * time.Minute)
	_, err = store.Get(ctx, []byte("seed"), hash)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.Put(ctx, []byte("seed"), hash, []byte("sig"), time.Now().Add(-time.Second)), ErrExpired)
}

func TestIssuer_WithRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Two issuers sharing Redis see each other's delegations.
	signer := newLocalSigner(t)
	a := NewIssuer(signer, NewRedisStore(client, "p:"))
	b := NewIssuer(signer, NewRedisStore(client, "p:"))

	id, err := FixedIdentity("gw", "ns", "ci")
	require.NoError(t, err)
	exp := uint64(time.Now().Add(time.Hour).UnixNano())
	_, err = a.Issue(ctx, id, []byte("pk"), exp)
	require.NoError(t, err)

	_, err = b.Get(ctx, id.Seed, []byte("pk"), exp)
	assert.NoError(t, err)
}

func TestExpiresAt_Saturates(t *testing.T) {
	assert.Equal(t, time.Unix(0, 1_500), expiresAt(1_500))
	assert.Equal(t, time.Unix(0, math.MaxInt64), expiresAt(math.MaxUint64))
	assert.True(t, expiresAt(math.MaxInt64+1).After(time.Now()))
}
