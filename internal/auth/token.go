// ABOUTME: JWT bearer tokens naming the calling principal
// ABOUTME: Uses HS256 signing with the configured secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/cose-gateway/internal/store"
)

// TokenIssuer is the iss claim of gateway tokens.
const TokenIssuer = "cose-gateway"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (store.Principal, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a new JWT verifier with the given secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret, now: time.Now}
}

// Verify validates the token and returns the principal in its "sub" claim.
// The anonymous principal is never accepted.
func (v *JWTVerifier) Verify(tokenString string) (store.Principal, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	p := store.Principal(claims.Subject)
	if p == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if p.IsAnonymous() {
		return "", fmt.Errorf("%w: anonymous subject", ErrInvalidToken)
	}
	return p, nil
}

// Generate creates a token for principal that expires after expiresIn.
func (v *JWTVerifier) Generate(principal store.Principal, expiresIn time.Duration) (string, error) {
	if principal.IsAnonymous() {
		return "", fmt.Errorf("%w: anonymous subject", ErrInvalidToken)
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   string(principal),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
