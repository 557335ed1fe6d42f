// ABOUTME: Delegation signing and lookup
// ABOUTME: Signatures come from the deterministic signer and are cached until expiry

package delegation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/2389/cose-gateway/internal/cose"
	"github.com/2389/cose-gateway/internal/keyring"
)

const hashDomain = "\x1acose-gateway-delegation"

// Signer produces the delegation signature. keyring.Oracle satisfies it.
type Signer interface {
	Sign(ctx context.Context, label string, path [][]byte, message []byte) ([]byte, error)
}

// Delegation is the signed content: a session key and its expiration in
// Unix nanoseconds.
type Delegation struct {
	PublicKey  []byte `cbor:"pubkey" json:"pubkey"`
	Expiration uint64 `cbor:"expiration" json:"expiration"`
}

// Hash returns the message signed for d.
func (d Delegation) Hash() ([32]byte, error) {
	encoded, err := cose.Marshal(d)
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding delegation: %w", err)
	}
	return cose.SHA3([]byte(hashDomain), encoded), nil
}

// SignedDelegation is a delegation with its signature.
type SignedDelegation struct {
	Delegation Delegation `json:"delegation"`
	Signature  []byte     `json:"signature"`
}

// SignInResponse is returned when a delegation is issued.
type SignInResponse struct {
	Expiration uint64 `json:"expiration"`
	UserKey    []byte `json:"user_key"`
	Seed       []byte `json:"seed"`
	Principal  string `json:"principal"`
}

// Issuer signs delegations and serves them back.
type Issuer struct {
	signer Signer
	sigs   SignatureStore
	logger *slog.Logger
}

// NewIssuer creates an issuer that keeps signatures in sigs.
func NewIssuer(signer Signer, sigs SignatureStore) *Issuer {
	return &Issuer{
		signer: signer,
		sigs:   sigs,
		logger: slog.Default().With("component", "delegation"),
	}
}

// Pending is a signed delegation that has not been stored yet.
type Pending struct {
	identity *Identity
	hash     [32]byte
	sig      []byte
	exp      uint64
}

// Sign signs a delegation of id to pubkey until expiration (Unix ns)
// without storing it. Callers that must re-check permissions after the
// signer returns do so before Commit.
func (i *Issuer) Sign(ctx context.Context, id *Identity, pubkey []byte, expiration uint64) (*Pending, error) {
	d := Delegation{PublicKey: pubkey, Expiration: expiration}
	hash, err := d.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := i.signer.Sign(ctx, keyring.LabelDelegation, [][]byte{id.Seed}, hash[:])
	if err != nil {
		return nil, fmt.Errorf("signing delegation: %w", err)
	}
	return &Pending{identity: id, hash: hash, sig: sig, exp: expiration}, nil
}

// expiresAt converts a nanosecond expiration, saturating past the int64 range.
func expiresAt(ns uint64) time.Time {
	if ns > math.MaxInt64 {
		return time.Unix(0, math.MaxInt64)
	}
	return time.Unix(0, int64(ns))
}

// Commit stores a pending delegation so Get can find it.
func (i *Issuer) Commit(ctx context.Context, p *Pending) (*SignInResponse, error) {
	if err := i.sigs.Put(ctx, p.identity.Seed, p.hash, p.sig, expiresAt(p.exp)); err != nil {
		return nil, fmt.Errorf("storing delegation: %w", err)
	}

	i.logger.Debug("issued delegation", "principal", p.identity.Principal, "expiration", p.exp)
	return &SignInResponse{
		Expiration: p.exp,
		UserKey:    p.identity.UserKey,
		Seed:       p.identity.Seed,
		Principal:  p.identity.Principal,
	}, nil
}

// Issue signs and stores a delegation in one step.
func (i *Issuer) Issue(ctx context.Context, id *Identity, pubkey []byte, expiration uint64) (*SignInResponse, error) {
	p, err := i.Sign(ctx, id, pubkey, expiration)
	if err != nil {
		return nil, err
	}
	return i.Commit(ctx, p)
}

// Get returns a previously issued delegation. It has no side effects.
func (i *Issuer) Get(ctx context.Context, seed, pubkey []byte, expiration uint64) (*SignedDelegation, error) {
	d := Delegation{PublicKey: pubkey, Expiration: expiration}
	hash, err := d.Hash()
	if err != nil {
		return nil, err
	}
	sig, err := i.sigs.Get(ctx, seed, hash)
	if err != nil {
		return nil, err
	}
	return &SignedDelegation{Delegation: d, Signature: sig}, nil
}

// VerifyEd25519 checks sd against the Ed25519 delegation key of seed.
func VerifyEd25519(pub ed25519.PublicKey, sd *SignedDelegation) error {
	hash, err := sd.Delegation.Hash()
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, hash[:], sd.Signature) {
		return errors.New("delegation signature is invalid")
	}
	return nil
}
