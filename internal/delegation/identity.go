// ABOUTME: Fixed identity derivation and challenge verification
// ABOUTME: Challenges are SSH signatures over CBOR [namespace, name, caller]

package delegation

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/2389/cose-gateway/internal/cose"
)

// PrincipalPrefix marks principals derived from fixed identities.
const PrincipalPrefix = "fid-"

// ErrChallenge is returned when a challenge signature does not verify.
var ErrChallenge = errors.New("challenge verification failed")

var principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Identity is a fixed pseudonymous identity.
type Identity struct {
	Seed      []byte `json:"seed"`
	UserKey   []byte `json:"user_key"`
	Principal string `json:"principal"`
}

// FixedIdentity derives the identity for name within ns, issued by issuer.
// The result depends only on its inputs.
func FixedIdentity(issuer, ns, name string) (*Identity, error) {
	encoded, err := cose.Marshal([]string{ns, name})
	if err != nil {
		return nil, fmt.Errorf("encoding seed: %w", err)
	}
	seed := cose.SHA3(encoded)

	userKey, err := cose.Marshal([]any{issuer, seed[:]})
	if err != nil {
		return nil, fmt.Errorf("encoding user key: %w", err)
	}
	sum := cose.SHA3_224(userKey)
	return &Identity{
		Seed:      seed[:],
		UserKey:   userKey,
		Principal: PrincipalPrefix + strings.ToLower(principalEncoding.EncodeToString(sum[:])),
	}, nil
}

// Challenge returns the bytes a delegator signs to request a delegation.
func Challenge(ns, name, caller string) ([]byte, error) {
	return cose.Marshal([]string{ns, name, caller})
}

// VerifyChallenge checks that sig is an SSH signature by pubkey (SSH wire
// format) over the challenge for (ns, name, caller).
func VerifyChallenge(pubkey, sig []byte, ns, name, caller string) error {
	pk, err := ssh.ParsePublicKey(pubkey)
	if err != nil {
		return fmt.Errorf("%w: invalid public key: %v", ErrChallenge, err)
	}
	signature := new(ssh.Signature)
	if err := ssh.Unmarshal(sig, signature); err != nil {
		return fmt.Errorf("%w: invalid signature format: %v", ErrChallenge, err)
	}
	msg, err := Challenge(ns, name, caller)
	if err != nil {
		return err
	}
	if err := pk.Verify(msg, signature); err != nil {
		return fmt.Errorf("%w: %v", ErrChallenge, err)
	}
	return nil
}
