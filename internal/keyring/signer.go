// ABOUTME: Oracle capability interfaces and domain separation labels
// ABOUTME: DeterministicSigner signs, VetKD issues encrypted derived keys

package keyring

import (
	"context"
	"errors"
)

// Domain separation labels passed to the signer.
const (
	LabelSymmetricKey   = "COSE_Symmetric_Key"
	LabelECDSASigning   = "COSE_ECDSA_Signing"
	LabelSchnorrSigning = "COSE_Schnorr_Signing"
	LabelIdentity       = "COSE_Identity_Signing"
	LabelDelegation     = "COSE_Delegation"
)

// ErrOracle marks failures of the signer or vetKD provider.
var ErrOracle = errors.New("key derivation oracle failure")

// DeterministicSigner returns the same signature for the same label, path
// and message. Curve choice belongs to the implementation.
type DeterministicSigner interface {
	Sign(ctx context.Context, label string, path [][]byte, message []byte) ([]byte, error)
	PublicKey(ctx context.Context, label string, path [][]byte) ([]byte, error)
}

// VetKD derives identity-based keys and returns them encrypted to a
// caller-supplied transport public key.
type VetKD interface {
	PublicKey(ctx context.Context, path [][]byte) ([]byte, error)
	EncryptedKey(ctx context.Context, path [][]byte, inputID, transportPublicKey []byte) ([]byte, error)
}
