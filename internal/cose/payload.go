// ABOUTME: CBOR payload validation for plaintext settings
// ABOUTME: Checks well-formedness and an optional declared major type

package cose

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Content types a plaintext setting may declare, as CBOR major types.
const (
	ContentAny   uint8 = 0
	ContentBytes uint8 = 2
	ContentText  uint8 = 3
	ContentArray uint8 = 4
	ContentMap   uint8 = 5
	ContentTag   uint8 = 6
)

// ValidContentType reports whether ctype is a declarable content type.
func ValidContentType(ctype uint8) bool {
	return ctype == ContentAny || (ctype >= ContentBytes && ctype <= ContentTag)
}

// ValidatePayload checks that payload is exactly one well-formed CBOR item
// and, when ctype is not ContentAny, that its major type matches.
func ValidatePayload(payload []byte, ctype uint8) error {
	if !ValidContentType(ctype) {
		return fmt.Errorf("%w: unknown content type %d", ErrInvalidEncoding, ctype)
	}
	if err := cbor.Wellformed(payload); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrInvalidEncoding, err)
	}
	if ctype == ContentAny {
		return nil
	}
	if major := payload[0] >> 5; major != ctype {
		return fmt.Errorf("%w: payload has CBOR major type %d, want %d", ErrInvalidEncoding, major, ctype)
	}
	return nil
}
