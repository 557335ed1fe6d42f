// ABOUTME: HTTP middleware for bearer-token and SSH authentication on API endpoints
// ABOUTME: Adds the resolved principal to the request context, anonymous when no credentials

package auth

import (
	"encoding/json"
	"net/http"
	"strings"
)

// HTTPMiddleware authenticates each request. Requests without credentials
// continue as anonymous; requests with bad credentials get 401.
func (a *Authenticator) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		get := func(key string) string { return r.Header.Get(key) }
		authCtx, err := a.Authenticate(get, r.RemoteAddr)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, strings.TrimPrefix(err.Error(), ErrUnauthenticated.Error()+"\n"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
	})
}

// RequireCallerHTTP rejects anonymous requests. Must be used after HTTPMiddleware.
func RequireCallerHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).IsAnonymous() {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeAuthError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
