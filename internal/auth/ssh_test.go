// ABOUTME: Tests for SSH public key authentication
// ABOUTME: Covers signature verification, replay rejection, and header extraction

package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// generateTestKeyPair creates a new ed25519 key pair for testing
func generateTestKeyPair(t *testing.T) (ssh.Signer, string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	return signer, string(ssh.MarshalAuthorizedKey(signer.PublicKey()))
}

// signedRequest builds an SSHAuthRequest signed at ts.
func signedRequest(t *testing.T, signer ssh.Signer, pubkey string, ts int64, nonce string) *SSHAuthRequest {
	t.Helper()

	sig, err := signer.Sign(rand.Reader, []byte(fmt.Sprintf("%d|%s", ts, nonce)))
	if err != nil {
		t.Fatalf("failed to sign message: %v", err)
	}
	return &SSHAuthRequest{
		Pubkey:    pubkey,
		Signature: base64.StdEncoding.EncodeToString(ssh.Marshal(sig)),
		Timestamp: ts,
		Nonce:     nonce,
	}
}

func TestSSHVerifier_ValidSignature(t *testing.T) {
	signer, pubkey := generateTestKeyPair(t)
	v := NewSSHVerifier()
	defer v.Close()

	p, err := v.Verify(signedRequest(t, signer, pubkey, time.Now().Unix(), "nonce-1"))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}

	want, err := PrincipalFromKey(pubkey)
	if err != nil {
		t.Fatalf("PrincipalFromKey() error = %v", err)
	}
	if p != want {
		t.Errorf("Verify() = %q, want %q", p, want)
	}
	if !strings.HasPrefix(string(p), SSHPrincipalPrefix) || len(p) != len(SSHPrincipalPrefix)+64 {
		t.Errorf("unexpected principal format %q", p)
	}
}

func TestSSHVerifier_Replay(t *testing.T) {
	signer, pubkey := generateTestKeyPair(t)
	v := NewSSHVerifier()
	defer v.Close()

	req := signedRequest(t, signer, pubkey, time.Now().Unix(), "nonce-1")
	if _, err := v.Verify(req); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}
	if _, err := v.Verify(req); err == nil {
		t.Error("replayed request was accepted")
	}

	// A different key may reuse the nonce string.
	other, otherPub := generateTestKeyPair(t)
	if _, err := v.Verify(signedRequest(t, other, otherPub, req.Timestamp, "nonce-1")); err != nil {
		t.Errorf("other key with same nonce: %v", err)
	}
}

func TestSSHVerifier_Rejects(t *testing.T) {
	signer, pubkey := generateTestKeyPair(t)
	_, otherPub := generateTestKeyPair(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(r *SSHAuthRequest)
		ts     time.Time
	}{
		{"expired", nil, now.Add(-SSHAuthMaxAge - time.Second)},
		{"future", nil, now.Add(2 * time.Minute)},
		{"wrong key", func(r *SSHAuthRequest) { r.Pubkey = otherPub }, now},
		{"tampered nonce", func(r *SSHAuthRequest) { r.Nonce = "other" }, now},
		{"bad pubkey", func(r *SSHAuthRequest) { r.Pubkey = "ssh-ed25519 garbage" }, now},
		{"bad encoding", func(r *SSHAuthRequest) { r.Signature = "!!!" }, now},
		{"bad signature", func(r *SSHAuthRequest) { r.Signature = base64.StdEncoding.EncodeToString([]byte("nope")) }, now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newSSHVerifier(func() time.Time { return now })
			defer v.Close()

			req := signedRequest(t, signer, pubkey, tt.ts.Unix(), "nonce")
			if tt.mutate != nil {
				tt.mutate(req)
			}
			if _, err := v.Verify(req); err == nil {
				t.Error("Verify() accepted invalid request")
			}
		})
	}
}

func TestSSHVerifier_SmallClockSkew(t *testing.T) {
	signer, pubkey := generateTestKeyPair(t)
	now := time.Now()
	v := newSSHVerifier(func() time.Time { return now })
	defer v.Close()

	if _, err := v.Verify(signedRequest(t, signer, pubkey, now.Add(30*time.Second).Unix(), "n")); err != nil {
		t.Errorf("Verify() with 30s skew error = %v", err)
	}
}

func TestExtractSSHAuth(t *testing.T) {
	headers := map[string]string{
		SSHPubkeyHeader:    " ssh-ed25519 AAAA ",
		SSHSignatureHeader: "c2ln",
		SSHTimestampHeader: "1700000000",
		SSHNonceHeader:     "n1",
	}
	req := ExtractSSHAuth(func(k string) string { return headers[k] })
	if req == nil {
		t.Fatal("ExtractSSHAuth() = nil")
	}
	if req.Pubkey != "ssh-ed25519 AAAA" || req.Timestamp != 1700000000 || req.Nonce != "n1" {
		t.Errorf("unexpected request %+v", req)
	}

	if got := ExtractSSHAuth(func(string) string { return "" }); got != nil {
		t.Errorf("ExtractSSHAuth(no headers) = %+v, want nil", got)
	}

	partial := ExtractSSHAuth(func(k string) string {
		if k == SSHPubkeyHeader {
			return "ssh-ed25519 AAAA"
		}
		return ""
	})
	if partial == nil || partial.validate() == nil {
		t.Error("partial SSH headers should be extracted and fail validation")
	}
}
