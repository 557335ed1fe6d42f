// ABOUTME: Error taxonomy returned by service operations
// ABOUTME: Transports classify errors with errors.Is against these sentinels

package service

import (
	"errors"
	"fmt"

	"github.com/2389/cose-gateway/internal/cose"
	"github.com/2389/cose-gateway/internal/delegation"
	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/replay"
	"github.com/2389/cose-gateway/internal/store"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrVersionMismatch  = errors.New("version mismatch")
	ErrAlreadyExists    = errors.New("already exists")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrInvalidEncoding  = errors.New("invalid encoding")
	ErrCryptoFailure    = errors.New("crypto failure")
	ErrDisabled         = errors.New("disabled")
	ErrNotEmpty         = errors.New("namespace is not empty")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnauthenticated  = errors.New("unauthenticated")
)

// classified reports whether err already carries a service sentinel.
func classified(err error) bool {
	k := Kind(err)
	return k != "ok" && k != "internal"
}

// translate maps errors from lower layers onto the service taxonomy.
// Unrecognized errors pass through unchanged.
func translate(err error) error {
	if err == nil || classified(err) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrAlreadyExists):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, store.ErrNotEmpty):
		return fmt.Errorf("%w: %v", ErrNotEmpty, err)
	case errors.Is(err, cose.ErrInvalidEncoding):
		return fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	case errors.Is(err, cose.ErrCryptoFailure), errors.Is(err, keyring.ErrOracle):
		return fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	case errors.Is(err, cose.ErrTokenExpired), errors.Is(err, cose.ErrTokenNotYetValid):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, delegation.ErrChallenge):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case errors.Is(err, delegation.ErrNotFound), errors.Is(err, delegation.ErrExpired):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, replay.ErrReplayed):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}

func denied(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrPermissionDenied}, args...)...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}

var kinds = []struct {
	err  error
	kind string
}{
	{ErrPermissionDenied, "permission_denied"},
	{ErrNotFound, "not_found"},
	{ErrVersionMismatch, "version_mismatch"},
	{ErrAlreadyExists, "already_exists"},
	{ErrPayloadTooLarge, "payload_too_large"},
	{ErrInvalidEncoding, "invalid_encoding"},
	{ErrCryptoFailure, "crypto_failure"},
	{ErrDisabled, "disabled"},
	{ErrNotEmpty, "not_empty"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrUnauthenticated, "unauthenticated"},
}

// Kind returns a stable snake_case name for the class of err: "ok" for nil
// and "internal" for errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return "ok"
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
