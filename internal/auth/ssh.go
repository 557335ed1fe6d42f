// ABOUTME: SSH public key authentication for gateway callers
// ABOUTME: Verifies signatures over timestamp|nonce and maps the key to a principal

package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/2389/cose-gateway/internal/replay"
	"github.com/2389/cose-gateway/internal/store"
)

const (
	// SSHAuthMaxAge is the maximum age of a signature timestamp.
	SSHAuthMaxAge = 5 * time.Minute

	// SSHNonceCacheSize is the maximum number of nonces to track.
	SSHNonceCacheSize = 10000

	// SSHPrincipalPrefix prefixes the key fingerprint to form the principal.
	SSHPrincipalPrefix = "ssh-"

	// SSH auth metadata keys. The HTTP API accepts the same names as headers.
	SSHPubkeyHeader    = "x-ssh-pubkey"
	SSHSignatureHeader = "x-ssh-signature"
	SSHTimestampHeader = "x-ssh-timestamp"
	SSHNonceHeader     = "x-ssh-nonce"
)

// SSHAuthRequest contains the data a caller sends for SSH authentication.
type SSHAuthRequest struct {
	Pubkey    string // authorized_keys format, e.g. "ssh-ed25519 AAAA..."
	Signature string // base64 SSH wire signature over "timestamp|nonce"
	Timestamp int64  // Unix seconds
	Nonce     string
}

// SSHVerifier verifies SSH signatures. Nonces are tracked per key so a
// captured header set cannot be replayed inside the timestamp window.
type SSHVerifier struct {
	maxAge time.Duration
	nonces *replay.Guard
	now    func() time.Time
}

// NewSSHVerifier creates a new SSH signature verifier with nonce replay protection.
func NewSSHVerifier() *SSHVerifier {
	return newSSHVerifier(time.Now)
}

func newSSHVerifier(now func() time.Time) *SSHVerifier {
	return &SSHVerifier{
		maxAge: SSHAuthMaxAge,
		nonces: replay.New(SSHAuthMaxAge, SSHNonceCacheSize, replay.WithClock(now)),
		now:    now,
	}
}

// Close releases resources used by the verifier.
func (v *SSHVerifier) Close() {
	if v.nonces != nil {
		v.nonces.Close()
	}
}

// Verify checks the signature and returns the caller's principal.
func (v *SSHVerifier) Verify(req *SSHAuthRequest) (store.Principal, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(req.Pubkey))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}

	age := v.now().Sub(time.Unix(req.Timestamp, 0))
	if age < -time.Minute {
		return "", errors.New("timestamp is in the future")
	}
	if age > v.maxAge {
		return "", fmt.Errorf("signature expired (age: %v, max: %v)", age, v.maxAge)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid signature encoding: %w", err)
	}
	sig := new(ssh.Signature)
	if err := ssh.Unmarshal(sigBytes, sig); err != nil {
		return "", fmt.Errorf("invalid signature format: %w", err)
	}

	message := fmt.Sprintf("%d|%s", req.Timestamp, req.Nonce)
	if err := pubkey.Verify([]byte(message), sig); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}

	fp := ComputeFingerprint(pubkey)
	nonce := strconv.FormatInt(req.Timestamp, 10) + "|" + req.Nonce
	if err := v.nonces.Use(fp, pubkey.Marshal(), []byte(nonce)); err != nil {
		return "", fmt.Errorf("nonce rejected: %w", err)
	}

	return store.Principal(SSHPrincipalPrefix + fp), nil
}

// ComputeFingerprint computes the SHA256 fingerprint of a public key as
// lowercase hex without colons.
func ComputeFingerprint(pubkey ssh.PublicKey) string {
	hash := sha256.Sum256(pubkey.Marshal())
	return hex.EncodeToString(hash[:])
}

// PrincipalFromKey returns the principal an SSH key authenticates as.
// Operators use it to grant ACL entries before the key first connects.
func PrincipalFromKey(pubkeyStr string) (store.Principal, error) {
	pubkey, _, _, _, err := ssh.ParseAuthorizedKey([]byte(pubkeyStr))
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return store.Principal(SSHPrincipalPrefix + ComputeFingerprint(pubkey)), nil
}

// ExtractSSHAuth extracts SSH auth fields from gRPC metadata or lowercased
// HTTP headers. Returns nil if no SSH auth field is present.
func ExtractSSHAuth(get func(key string) string) *SSHAuthRequest {
	pubkey := get(SSHPubkeyHeader)
	signature := get(SSHSignatureHeader)
	timestampStr := get(SSHTimestampHeader)
	nonce := get(SSHNonceHeader)

	if pubkey == "" && signature == "" && timestampStr == "" && nonce == "" {
		return nil
	}

	timestamp, _ := strconv.ParseInt(strings.TrimSpace(timestampStr), 10, 64)
	return &SSHAuthRequest{
		Pubkey:    strings.TrimSpace(pubkey),
		Signature: strings.TrimSpace(signature),
		Timestamp: timestamp,
		Nonce:     strings.TrimSpace(nonce),
	}
}

// validate checks that all required SSH fields are present.
func (r *SSHAuthRequest) validate() error {
	switch {
	case r.Pubkey == "":
		return errors.New("missing SSH public key")
	case r.Signature == "":
		return errors.New("missing SSH signature")
	case r.Timestamp == 0:
		return errors.New("missing SSH timestamp")
	case r.Nonce == "":
		return errors.New("missing SSH nonce")
	}
	return nil
}
