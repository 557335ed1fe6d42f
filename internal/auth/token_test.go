// ABOUTME: Tests for JWT principal tokens

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/cose-gateway/internal/store"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret-at-least-32-bytes-long!"))

	token, err := v.Generate("alice", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if got != store.Principal("alice") {
		t.Errorf("Verify() = %q, want alice", got)
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	secret := []byte("test-secret-at-least-32-bytes-long!")
	v := NewJWTVerifier(secret)
	now := time.Now()

	sign := func(method jwt.SigningMethod, key any, claims jwt.RegisteredClaims) string {
		t.Helper()
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		return s
	}
	valid := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))
	wrongIssuer := valid()
	wrongIssuer.Issuer = "someone-else"
	noExp := valid()
	noExp.ExpiresAt = nil
	noSub := valid()
	noSub.Subject = ""
	anon := valid()
	anon.Subject = string(store.Anonymous)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"garbage", "not.a.jwt", ErrInvalidToken},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other-secret"), valid()), ErrInvalidToken},
		{"wrong algorithm", sign(jwt.SigningMethodHS512, secret, valid()), ErrInvalidToken},
		{"expired", sign(jwt.SigningMethodHS256, secret, expired), ErrExpiredToken},
		{"wrong issuer", sign(jwt.SigningMethodHS256, secret, wrongIssuer), ErrInvalidToken},
		{"missing exp", sign(jwt.SigningMethodHS256, secret, noExp), ErrInvalidToken},
		{"missing sub", sign(jwt.SigningMethodHS256, secret, noSub), ErrMissingClaim},
		{"anonymous sub", sign(jwt.SigningMethodHS256, secret, anon), ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Verify() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestJWTVerifier_GenerateAnonymous(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	if _, err := v.Generate(store.Anonymous, time.Hour); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Generate(anonymous) error = %v, want ErrInvalidToken", err)
	}
}
