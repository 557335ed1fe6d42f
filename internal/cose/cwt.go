// ABOUTME: CBOR Web Tokens as COSE_Sign1 items (EdDSA)
// ABOUTME: The caller principal is bound as external AAD of the signature

package cose

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// ClockSkew is the tolerance applied to exp and nbf when verifying tokens.
const ClockSkew = 5 * time.Minute

// Sign1Prefix is the first byte of a tagged COSE_Sign1 item.
var Sign1Prefix = []byte{0xd2}

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
)

// Claims is the CWT claim set. Times are Unix seconds.
type Claims struct {
	Issuer     string `cbor:"1,keyasint,omitempty" json:"iss,omitempty"`
	Subject    string `cbor:"2,keyasint,omitempty" json:"sub,omitempty"`
	Audience   string `cbor:"3,keyasint,omitempty" json:"aud,omitempty"`
	Expiration int64  `cbor:"4,keyasint,omitempty" json:"exp,omitempty"`
	NotBefore  int64  `cbor:"5,keyasint,omitempty" json:"nbf,omitempty"`
	IssuedAt   int64  `cbor:"6,keyasint,omitempty" json:"iat,omitempty"`
	ID         []byte `cbor:"7,keyasint,omitempty" json:"cti,omitempty"`
	Scope      string `cbor:"9,keyasint,omitempty" json:"scope,omitempty"`
}

type sign1Message struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected Header
	Payload     []byte
	Signature   []byte
}

type sigStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
	Payload     []byte
}

// EncodeCWT signs claims as a tagged COSE_Sign1 item. sign receives the
// Sig_structure bytes and must return a raw Ed25519 signature.
func EncodeCWT(claims *Claims, aad []byte, sign func(tbs []byte) ([]byte, error)) ([]byte, error) {
	protected, err := encMode.Marshal(Header{Alg: AlgEdDSA})
	if err != nil {
		return nil, fmt.Errorf("encoding protected header: %w", err)
	}
	payload, err := encMode.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("encoding claims: %w", err)
	}
	tbs, err := encodeSigStructure(protected, aad, payload)
	if err != nil {
		return nil, err
	}
	sig, err := sign(tbs)
	if err != nil {
		return nil, fmt.Errorf("signing token: %w", err)
	}

	out, err := encMode.Marshal(cbor.Tag{Number: tagSign1, Content: sign1Message{
		Protected: protected,
		Payload:   payload,
		Signature: sig,
	}})
	if err != nil {
		return nil, fmt.Errorf("encoding sign1: %w", err)
	}
	return out, nil
}

// VerifyCWT checks the signature of token against pub with aad bound and
// validates exp/nbf against now with ClockSkew tolerance.
func VerifyCWT(token, aad []byte, pub ed25519.PublicKey, now time.Time) (*Claims, error) {
	token = bytes.TrimPrefix(token, Sign1Prefix)

	var msg sign1Message
	if err := decMode.Unmarshal(token, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	var protected Header
	if err := decMode.Unmarshal(msg.Protected, &protected); err != nil {
		return nil, fmt.Errorf("%w: protected header: %v", ErrInvalidEncoding, err)
	}
	if protected.Alg != AlgEdDSA {
		return nil, fmt.Errorf("%w: unsupported alg %d", ErrInvalidEncoding, protected.Alg)
	}

	tbs, err := encodeSigStructure(msg.Protected, aad, msg.Payload)
	if err != nil {
		return nil, err
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, tbs, msg.Signature) {
		return nil, fmt.Errorf("%w: signature verification failed", ErrCryptoFailure)
	}

	claims := &Claims{}
	if err := decMode.Unmarshal(msg.Payload, claims); err != nil {
		return nil, fmt.Errorf("%w: claims: %v", ErrInvalidEncoding, err)
	}
	skew := int64(ClockSkew / time.Second)
	if claims.Expiration != 0 && now.Unix() > claims.Expiration+skew {
		return nil, ErrTokenExpired
	}
	if claims.NotBefore != 0 && now.Unix()+skew < claims.NotBefore {
		return nil, ErrTokenNotYetValid
	}
	return claims, nil
}

func encodeSigStructure(protected, aad, payload []byte) ([]byte, error) {
	if aad == nil {
		aad = []byte{}
	}
	out, err := encMode.Marshal(sigStructure{
		Context:     "Signature1",
		Protected:   protected,
		ExternalAAD: aad,
		Payload:     payload,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding sig_structure: %w", err)
	}
	return out, nil
}
