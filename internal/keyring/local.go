// ABOUTME: Local oracle adapters deriving Ed25519 and X25519 keys from a root seed
// ABOUTME: Used for single-node deployments and tests

package keyring

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/2389/cose-gateway/internal/cose"
)

// MinRootSeedSize is the smallest accepted root seed.
const MinRootSeedSize = 32

const vetkdTransportInfo = "cose-gateway vetkd transport"

type derivationInput struct {
	_       struct{} `cbor:",toarray"`
	KeyName string
	Label   string
	Path    [][]byte
}

func deriveSeed(root []byte, keyName, label string, path [][]byte) ([32]byte, error) {
	if path == nil {
		path = [][]byte{}
	}
	info, err := cose.Marshal(derivationInput{KeyName: keyName, Label: label, Path: path})
	if err != nil {
		return [32]byte{}, fmt.Errorf("encoding derivation path: %w", err)
	}
	return cose.MACSHA3(root, info), nil
}

// LocalSigner signs with Ed25519 keys derived from a root seed. Ed25519
// signatures are deterministic, so the same inputs always give the same
// signature.
type LocalSigner struct {
	root    []byte
	keyName string
}

// NewLocalSigner creates a signer for keyName rooted at seed.
func NewLocalSigner(seed []byte, keyName string) (*LocalSigner, error) {
	if len(seed) < MinRootSeedSize {
		return nil, fmt.Errorf("root seed must be at least %d bytes", MinRootSeedSize)
	}
	return &LocalSigner{root: append([]byte(nil), seed...), keyName: keyName}, nil
}

func (s *LocalSigner) key(label string, path [][]byte) (ed25519.PrivateKey, error) {
	seed, err := deriveSeed(s.root, s.keyName, label, path)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed[:]), nil
}

// Sign implements DeterministicSigner.
func (s *LocalSigner) Sign(ctx context.Context, label string, path [][]byte, message []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priv, err := s.key(label, path)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, message), nil
}

// PublicKey implements DeterministicSigner.
func (s *LocalSigner) PublicKey(ctx context.Context, label string, path [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	priv, err := s.key(label, path)
	if err != nil {
		return nil, err
	}
	return priv.Public().(ed25519.PublicKey), nil
}

// LocalVetKD stands in for a threshold vetKD service. Each derivation path
// owns an X25519 master secret; the key for an input id is a MAC of that
// secret and is delivered sealed to the caller's X25519 transport key.
type LocalVetKD struct {
	root    []byte
	keyName string
	random  io.Reader
}

// NewLocalVetKD creates a vetKD provider for keyName rooted at seed.
func NewLocalVetKD(seed []byte, keyName string) (*LocalVetKD, error) {
	if len(seed) < MinRootSeedSize {
		return nil, fmt.Errorf("root seed must be at least %d bytes", MinRootSeedSize)
	}
	return &LocalVetKD{root: append([]byte(nil), seed...), keyName: keyName, random: rand.Reader}, nil
}

func (v *LocalVetKD) master(path [][]byte) ([32]byte, error) {
	return deriveSeed(v.root, v.keyName, "vetkd", path)
}

// PublicKey implements VetKD.
func (v *LocalVetKD) PublicKey(ctx context.Context, path [][]byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	master, err := v.master(path)
	if err != nil {
		return nil, err
	}
	pub, err := cose.X25519PublicKey(master)
	if err != nil {
		return nil, err
	}
	return pub[:], nil
}

// EncryptedKey implements VetKD. The result is the 32-byte ephemeral public
// key followed by a COSE_Encrypt0 item bound to inputID.
func (v *LocalVetKD) EncryptedKey(ctx context.Context, path [][]byte, inputID, transportPublicKey []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(transportPublicKey) != 32 {
		return nil, fmt.Errorf("transport public key must be 32 bytes, got %d", len(transportPublicKey))
	}
	master, err := v.master(path)
	if err != nil {
		return nil, err
	}
	derived := cose.MACSHA3(master[:], inputID)

	var eph [32]byte
	var nonce [cose.NonceSize]byte
	if _, err := io.ReadFull(v.random, eph[:]); err != nil {
		return nil, fmt.Errorf("reading randomness: %w", err)
	}
	if _, err := io.ReadFull(v.random, nonce[:]); err != nil {
		return nil, fmt.Errorf("reading randomness: %w", err)
	}
	shared, ephPub, err := cose.X25519(eph, [32]byte(transportPublicKey))
	if err != nil {
		return nil, err
	}
	key, err := transportKey(shared, ephPub)
	if err != nil {
		return nil, err
	}
	sealed, err := cose.EncodeEncrypt0(derived[:], key, inputID, nonce, nil)
	if err != nil {
		return nil, err
	}
	return append(ephPub[:], sealed...), nil
}

// OpenLocalVetKey recovers the derived key from an EncryptedKey result
// using the transport secret that matches the transport public key.
func OpenLocalVetKey(transportSecret [32]byte, encrypted, inputID []byte) ([32]byte, error) {
	var out [32]byte
	if len(encrypted) <= 32 {
		return out, fmt.Errorf("%w: encrypted key too short", cose.ErrInvalidEncoding)
	}
	shared, _, err := cose.X25519(transportSecret, [32]byte(encrypted[:32]))
	if err != nil {
		return out, err
	}
	key, err := transportKey(shared, [32]byte(encrypted[:32]))
	if err != nil {
		return out, err
	}
	plain, err := cose.DecodeEncrypt0(encrypted[32:], key, inputID)
	if err != nil {
		return out, err
	}
	if len(plain) != 32 {
		return out, fmt.Errorf("%w: derived key must be 32 bytes", cose.ErrInvalidEncoding)
	}
	copy(out[:], plain)
	return out, nil
}

func transportKey(shared, ephPub [32]byte) ([cose.KeySize]byte, error) {
	var key [cose.KeySize]byte
	k, err := cose.HKDF256(shared[:], ephPub[:], []byte(vetkdTransportInfo), cose.KeySize)
	if err != nil {
		return key, err
	}
	copy(key[:], k)
	return key, nil
}
