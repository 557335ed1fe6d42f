// ABOUTME: Tests for the HTTP oracle adapters against an httptest server
// ABOUTME: The fake service is backed by the local adapters

package keyring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeOracleServer(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	signer, err := NewLocalSigner(testSeed, "remote_key")
	require.NoError(t, err)
	vetkd, err := NewLocalVetKD(testSeed, "remote_key")
	require.NoError(t, err)

	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/sign", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= failFirst {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var req SignRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "remote_key", req.KeyName)
		sig, err := signer.Sign(r.Context(), req.Label, req.Path, req.Message)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(SignResponse{Signature: sig})
	})
	mux.HandleFunc("/public-key", func(w http.ResponseWriter, r *http.Request) {
		var req PublicKeyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		pub, err := signer.PublicKey(r.Context(), req.Label, req.Path)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(PublicKeyResponse{PublicKey: pub})
	})
	mux.HandleFunc("/vetkd/public-key", func(w http.ResponseWriter, r *http.Request) {
		var req PublicKeyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		pub, err := vetkd.PublicKey(r.Context(), req.Path)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(PublicKeyResponse{PublicKey: pub})
	})
	mux.HandleFunc("/vetkd/encrypted-key", func(w http.ResponseWriter, r *http.Request) {
		var req EncryptedKeyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		key, err := vetkd.EncryptedKey(r.Context(), req.Path, req.InputID, req.TransportPublicKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(EncryptedKeyResponse{EncryptedKey: key})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRemoteSigner_MatchesLocal(t *testing.T) {
	srv, _ := newFakeOracleServer(t, 0)
	cfg := RemoteConfig{SignerURL: srv.URL, VetKDURL: srv.URL, KeyName: "remote_key", RetryMax: 1}
	remote := NewOracle(NewRemoteSigner(cfg), NewRemoteVetKD(cfg))

	local, err := NewLocalSigner(testSeed, "remote_key")
	require.NoError(t, err)
	scope := Scope{Namespace: "ns", Scope: 1, Subject: "alice"}

	got, err := remote.DeriveKEK(context.Background(), scope, []byte("kid"))
	require.NoError(t, err)
	want, err := NewOracle(local, nil).DeriveKEK(context.Background(), scope, []byte("kid"))
	require.NoError(t, err)
	assert.Equal(t, want, got)

	pub, err := remote.PublicKey(context.Background(), LabelIdentity, nil)
	require.NoError(t, err)
	wantPub, err := local.PublicKey(context.Background(), LabelIdentity, nil)
	require.NoError(t, err)
	assert.Equal(t, wantPub, pub)
}

func TestRemoteSigner_RetriesTransientFailures(t *testing.T) {
	srv, calls := newFakeOracleServer(t, 2)
	signer := NewRemoteSigner(RemoteConfig{SignerURL: srv.URL, KeyName: "remote_key", RetryMax: 3})

	sig, err := signer.Sign(context.Background(), LabelSymmetricKey, [][]byte{[]byte("a")}, []byte("m"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRemoteSigner_GivesUp(t *testing.T) {
	srv, _ := newFakeOracleServer(t, 100)
	signer := NewRemoteSigner(RemoteConfig{SignerURL: srv.URL, KeyName: "remote_key", RetryMax: 1})

	_, err := signer.Sign(context.Background(), LabelSymmetricKey, nil, []byte("m"))
	assert.ErrorIs(t, err, ErrOracle)
}

func TestRemoteVetKD_RoundTrip(t *testing.T) {
	srv, _ := newFakeOracleServer(t, 0)
	vetkd := NewRemoteVetKD(RemoteConfig{VetKDURL: srv.URL, KeyName: "remote_key"})

	var transportSecret [32]byte
	transportSecret[1] = 5
	local, err := NewLocalVetKD(testSeed, "remote_key")
	require.NoError(t, err)

	pub, err := vetkd.PublicKey(context.Background(), [][]byte{[]byte("p")})
	require.NoError(t, err)
	wantPub, err := local.PublicKey(context.Background(), [][]byte{[]byte("p")})
	require.NoError(t, err)
	assert.Equal(t, wantPub, pub)

	_, err = vetkd.EncryptedKey(context.Background(), [][]byte{[]byte("p")}, []byte("id"), []byte("bad"))
	assert.ErrorIs(t, err, ErrOracle)
}
