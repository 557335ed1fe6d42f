// ABOUTME: COSE_Key encoding for symmetric keys plus secret extraction
// ABOUTME: for OKP/EC2 private keys (label -4)

package cose

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Key types from the COSE registry.
const (
	KeyTypeOKP       = 1
	KeyTypeEC2       = 2
	KeyTypeSymmetric = 4
)

const (
	keyLabelKty = 1
	keyLabelKid = 2
	keyLabelAlg = 3
	keyLabelK   = -1
	keyLabelD   = -4
)

// Key is a COSE_Key holding a single secret. For symmetric keys the secret
// is the k parameter; for OKP and EC2 keys it is the private d parameter.
type Key struct {
	KeyType   int64
	KeyID     []byte
	Algorithm int64
	Secret    []byte
}

// WrapSymmetricKey builds an A256GCM symmetric COSE_Key.
func WrapSymmetricKey(secret [KeySize]byte, keyID []byte) *Key {
	return &Key{
		KeyType:   KeyTypeSymmetric,
		KeyID:     keyID,
		Algorithm: AlgA256GCM,
		Secret:    secret[:],
	}
}

// UnwrapSymmetricKey returns the 32-byte secret of a symmetric key.
func UnwrapSymmetricKey(k *Key) ([KeySize]byte, error) {
	var out [KeySize]byte
	if k.KeyType != KeyTypeSymmetric {
		return out, fmt.Errorf("%w: key type %d is not symmetric", ErrInvalidEncoding, k.KeyType)
	}
	if len(k.Secret) != KeySize {
		return out, fmt.Errorf("%w: symmetric key must be %d bytes, got %d", ErrInvalidEncoding, KeySize, len(k.Secret))
	}
	copy(out[:], k.Secret)
	return out, nil
}

// ParseKey decodes a COSE_Key.
func ParseKey(data []byte) (*Key, error) {
	k := &Key{}
	if err := k.UnmarshalCBOR(data); err != nil {
		return nil, err
	}
	return k, nil
}

// MarshalCBOR implements cbor.Marshaler.
func (k *Key) MarshalCBOR() ([]byte, error) {
	m := map[int64]any{keyLabelKty: k.KeyType}
	if len(k.KeyID) > 0 {
		m[keyLabelKid] = k.KeyID
	}
	if k.Algorithm != 0 {
		m[keyLabelAlg] = k.Algorithm
	}
	switch k.KeyType {
	case KeyTypeSymmetric:
		m[keyLabelK] = k.Secret
	case KeyTypeOKP, KeyTypeEC2:
		m[keyLabelD] = k.Secret
	default:
		return nil, fmt.Errorf("%w: unsupported key type %d", ErrInvalidEncoding, k.KeyType)
	}
	return encMode.Marshal(m)
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (k *Key) UnmarshalCBOR(data []byte) error {
	var m map[int64]cbor.RawMessage
	if err := decMode.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}

	raw, ok := m[keyLabelKty]
	if !ok {
		return fmt.Errorf("%w: missing kty", ErrInvalidEncoding)
	}
	if err := decMode.Unmarshal(raw, &k.KeyType); err != nil {
		return fmt.Errorf("%w: kty: %v", ErrInvalidEncoding, err)
	}
	if raw, ok := m[keyLabelKid]; ok {
		if err := decMode.Unmarshal(raw, &k.KeyID); err != nil {
			return fmt.Errorf("%w: kid: %v", ErrInvalidEncoding, err)
		}
	}
	if raw, ok := m[keyLabelAlg]; ok {
		if err := decMode.Unmarshal(raw, &k.Algorithm); err != nil {
			return fmt.Errorf("%w: alg: %v", ErrInvalidEncoding, err)
		}
	}

	label := int64(keyLabelK)
	switch k.KeyType {
	case KeyTypeSymmetric:
	case KeyTypeOKP, KeyTypeEC2:
		label = keyLabelD
	default:
		return fmt.Errorf("%w: unsupported key type %d", ErrInvalidEncoding, k.KeyType)
	}
	raw, ok = m[label]
	if !ok {
		return fmt.Errorf("%w: missing key secret", ErrInvalidEncoding)
	}
	if err := decMode.Unmarshal(raw, &k.Secret); err != nil {
		return fmt.Errorf("%w: secret: %v", ErrInvalidEncoding, err)
	}
	return nil
}
