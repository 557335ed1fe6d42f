// ABOUTME: Tests for the HTTP authentication middleware

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPMiddleware(t *testing.T) {
	a, tokens := newTestAuthenticator(t)
	token, err := tokens.Generate("bob", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var seen string
	handler := a.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = string(Caller(r.Context()))
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCaller string
	}{
		{"anonymous", "", http.StatusNoContent, "anonymous"},
		{"valid token", "Bearer " + token, http.StatusNoContent, "bob"},
		{"invalid token", "Bearer junk", http.StatusUnauthorized, ""},
		{"wrong scheme", "Token " + token, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if seen != tt.wantCaller {
				t.Errorf("caller = %q, want %q", seen, tt.wantCaller)
			}
		})
	}
}

func TestRequireCallerHTTP(t *testing.T) {
	a, tokens := newTestAuthenticator(t)
	token, _ := tokens.Generate("bob", time.Hour)
	handler := a.HTTPMiddleware(RequireCallerHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/x", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}
