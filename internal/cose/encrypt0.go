// ABOUTME: COSE_Encrypt0 envelope with AES-256-GCM (tag 16, 0xD0 prefix)
// ABOUTME: AAD is the Enc_structure over the protected header and external AAD

package cose

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Algorithm identifiers and header labels from the COSE registry.
const (
	AlgA256GCM = 3
	AlgEdDSA   = -8

	tagEncrypt0 = 16
	tagSign1    = 18

	KeySize   = 32
	NonceSize = 12
)

// Encrypt0Prefix is the first byte of every tagged COSE_Encrypt0 item.
var Encrypt0Prefix = []byte{0xd0}

var (
	ErrInvalidEncoding = errors.New("invalid COSE encoding")
	ErrCryptoFailure   = errors.New("cryptographic failure")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Marshal encodes v with core deterministic CBOR encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a single CBOR item into v, rejecting duplicate map keys.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Header carries the COSE header parameters this package reads or writes.
// Unknown labels are ignored on decode.
type Header struct {
	Alg int64  `cbor:"1,keyasint,omitempty"`
	KID []byte `cbor:"4,keyasint,omitempty"`
	IV  []byte `cbor:"5,keyasint,omitempty"`
}

type encrypt0Message struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected Header
	Ciphertext  []byte
}

type encStructure struct {
	_           struct{} `cbor:",toarray"`
	Context     string
	Protected   []byte
	ExternalAAD []byte
}

// Encrypt0 is a parsed, still encrypted COSE_Encrypt0 item.
type Encrypt0 struct {
	Protected   Header
	Unprotected Header
	Ciphertext  []byte

	protectedRaw []byte
}

// KeyID returns the kid header, preferring the unprotected bucket.
func (m *Encrypt0) KeyID() []byte {
	if len(m.Unprotected.KID) > 0 {
		return m.Unprotected.KID
	}
	return m.Protected.KID
}

// Decrypt opens the ciphertext with key, binding aad as external AAD.
func (m *Encrypt0) Decrypt(key [KeySize]byte, aad []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	copy(nonce[:], m.Unprotected.IV)
	structure, err := encodeEncStructure(m.protectedRaw, aad)
	if err != nil {
		return nil, err
	}
	return OpenAES256GCM(key, nonce, structure, m.Ciphertext)
}

// EncodeEncrypt0 seals plaintext into a tagged COSE_Encrypt0 item. The
// protected header carries alg A256GCM; the unprotected header carries the
// nonce as iv and keyID as kid when non-empty.
func EncodeEncrypt0(plaintext []byte, key [KeySize]byte, aad []byte, nonce [NonceSize]byte, keyID []byte) ([]byte, error) {
	protected, err := encMode.Marshal(Header{Alg: AlgA256GCM})
	if err != nil {
		return nil, fmt.Errorf("encoding protected header: %w", err)
	}
	structure, err := encodeEncStructure(protected, aad)
	if err != nil {
		return nil, err
	}
	ciphertext, err := SealAES256GCM(key, nonce, structure, plaintext)
	if err != nil {
		return nil, err
	}

	msg := encrypt0Message{
		Protected:   protected,
		Unprotected: Header{KID: keyID, IV: nonce[:]},
		Ciphertext:  ciphertext,
	}
	out, err := encMode.Marshal(cbor.Tag{Number: tagEncrypt0, Content: msg})
	if err != nil {
		return nil, fmt.Errorf("encoding encrypt0: %w", err)
	}
	return out, nil
}

// DecodeEncrypt0 parses and decrypts a COSE_Encrypt0 item.
func DecodeEncrypt0(data []byte, key [KeySize]byte, aad []byte) ([]byte, error) {
	msg, err := ParseEncrypt0(data)
	if err != nil {
		return nil, err
	}
	return msg.Decrypt(key, aad)
}

// ParseEncrypt0 checks that data is a well-formed COSE_Encrypt0 item for
// A256GCM with a 12-byte iv, without decrypting it. The 0xD0 tag prefix is
// optional.
func ParseEncrypt0(data []byte) (*Encrypt0, error) {
	data = bytes.TrimPrefix(data, Encrypt0Prefix)

	var raw encrypt0Message
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	msg := &Encrypt0{
		Unprotected:  raw.Unprotected,
		Ciphertext:   raw.Ciphertext,
		protectedRaw: raw.Protected,
	}
	if len(raw.Protected) > 0 {
		if err := decMode.Unmarshal(raw.Protected, &msg.Protected); err != nil {
			return nil, fmt.Errorf("%w: protected header: %v", ErrInvalidEncoding, err)
		}
	}
	if msg.Protected.Alg != AlgA256GCM {
		return nil, fmt.Errorf("%w: unsupported alg %d", ErrInvalidEncoding, msg.Protected.Alg)
	}
	if len(msg.Unprotected.IV) != NonceSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrInvalidEncoding, NonceSize, len(msg.Unprotected.IV))
	}
	return msg, nil
}

func encodeEncStructure(protected, aad []byte) ([]byte, error) {
	if aad == nil {
		aad = []byte{}
	}
	out, err := encMode.Marshal(encStructure{
		Context:     "Encrypt0",
		Protected:   protected,
		ExternalAAD: aad,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding enc_structure: %w", err)
	}
	return out, nil
}
