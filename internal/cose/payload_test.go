// ABOUTME: Tests for plaintext payload validation

package cose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePayload(t *testing.T) {
	text, err := Marshal("hello")
	require.NoError(t, err)
	bstr, err := Marshal([]byte{1, 2, 3})
	require.NoError(t, err)
	arr, err := Marshal([]int{1, 2})
	require.NoError(t, err)
	m, err := Marshal(map[string]int{"a": 1})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		ctype   uint8
		wantErr bool
	}{
		{"any text", text, ContentAny, false},
		{"text as text", text, ContentText, false},
		{"bytes as bytes", bstr, ContentBytes, false},
		{"array as array", arr, ContentArray, false},
		{"map as map", m, ContentMap, false},
		{"map declared as text", m, ContentText, true},
		{"empty", nil, ContentAny, true},
		{"trailing data", append(text, 0x01), ContentAny, true},
		{"truncated", text[:3], ContentAny, true},
		{"unknown ctype", text, 9, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.payload, tt.ctype)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidEncoding)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
