// ABOUTME: Tests for auth context propagation

package auth

import (
	"context"
	"testing"

	"github.com/2389/cose-gateway/internal/store"
)

func TestCaller(t *testing.T) {
	if got := Caller(context.Background()); got != store.Anonymous {
		t.Errorf("Caller(empty) = %q, want anonymous", got)
	}

	ctx := WithAuth(context.Background(), &AuthContext{Principal: "alice", Method: MethodJWT})
	if got := Caller(ctx); got != "alice" {
		t.Errorf("Caller() = %q, want alice", got)
	}
	if FromContext(ctx).IsAnonymous() {
		t.Error("IsAnonymous() = true for alice")
	}
}

func TestAuthContext_IsAnonymous(t *testing.T) {
	var nilCtx *AuthContext
	if !nilCtx.IsAnonymous() {
		t.Error("nil AuthContext should be anonymous")
	}
	if !anonymousContext.IsAnonymous() {
		t.Error("anonymousContext should be anonymous")
	}
}
