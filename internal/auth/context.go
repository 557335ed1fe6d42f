// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext and Caller for propagating the principal via context

package auth

import (
	"context"

	"github.com/2389/cose-gateway/internal/store"
)

// Authentication methods recorded on an AuthContext.
const (
	MethodJWT       = "jwt"
	MethodSSH       = "ssh"
	MethodAnonymous = "anonymous"
)

// AuthContext holds the authenticated identity extracted from a request.
// It is populated by the interceptors and HTTP middleware.
type AuthContext struct {
	Principal store.Principal
	Method    string // MethodJWT, MethodSSH or MethodAnonymous
}

// IsAnonymous reports whether the request carried no credentials.
func (a *AuthContext) IsAnonymous() bool {
	return a == nil || a.Principal.IsAnonymous()
}

// anonymousContext is shared by every unauthenticated request.
var anonymousContext = &AuthContext{Principal: store.Anonymous, Method: MethodAnonymous}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}

// Caller returns the principal of the request, or store.Anonymous when the
// context carries none.
func Caller(ctx context.Context) store.Principal {
	if auth := FromContext(ctx); auth != nil && auth.Principal != "" {
		return auth.Principal
	}
	return store.Anonymous
}
