// ABOUTME: Tests for the gRPC authentication interceptors
// ABOUTME: Covers anonymous, JWT, and SSH callers plus the RequireCaller filter

package auth

import (
	"context"
	"strconv"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/cose-gateway/internal/store"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *JWTVerifier) {
	t.Helper()
	tokens := NewJWTVerifier([]byte("interceptor-test-secret"))
	ssh := NewSSHVerifier()
	t.Cleanup(ssh.Close)
	return NewAuthenticator(tokens, ssh, nil), tokens
}

// callUnary runs the interceptor with md and returns the principal the handler saw.
func callUnary(t *testing.T, a *Authenticator, md metadata.MD) (store.Principal, error) {
	t.Helper()
	ctx := context.Background()
	if md != nil {
		ctx = metadata.NewIncomingContext(ctx, md)
	}
	var seen store.Principal
	_, err := a.UnaryInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/test/Method"},
		func(ctx context.Context, req any) (any, error) {
			seen = Caller(ctx)
			return nil, nil
		})
	return seen, err
}

func TestUnaryInterceptor_Anonymous(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	p, err := callUnary(t, a, nil)
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if p != store.Anonymous {
		t.Errorf("principal = %q, want anonymous", p)
	}
}

func TestUnaryInterceptor_JWT(t *testing.T) {
	a, tokens := newTestAuthenticator(t)
	token, err := tokens.Generate("alice", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	p, err := callUnary(t, a, metadata.Pairs("authorization", "Bearer "+token))
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	if p != "alice" {
		t.Errorf("principal = %q, want alice", p)
	}
}

func TestUnaryInterceptor_SSH(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	signer, pubkey := generateTestKeyPair(t)
	req := signedRequest(t, signer, pubkey, time.Now().Unix(), "nonce-grpc")

	p, err := callUnary(t, a, metadata.Pairs(
		SSHPubkeyHeader, req.Pubkey,
		SSHSignatureHeader, req.Signature,
		SSHTimestampHeader, strconv.FormatInt(req.Timestamp, 10),
		SSHNonceHeader, req.Nonce,
	))
	if err != nil {
		t.Fatalf("interceptor error = %v", err)
	}
	want, _ := PrincipalFromKey(pubkey)
	if p != want {
		t.Errorf("principal = %q, want %q", p, want)
	}
}

func TestUnaryInterceptor_BadCredentials(t *testing.T) {
	a, _ := newTestAuthenticator(t)

	tests := []struct {
		name string
		md   metadata.MD
	}{
		{"basic auth", metadata.Pairs("authorization", "Basic Zm9vOmJhcg==")},
		{"empty bearer", metadata.Pairs("authorization", "Bearer ")},
		{"invalid token", metadata.Pairs("authorization", "Bearer not-a-token")},
		{"partial ssh", metadata.Pairs(SSHPubkeyHeader, "ssh-ed25519 AAAA")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callUnary(t, a, tt.md)
			if status.Code(err) != codes.Unauthenticated {
				t.Errorf("code = %v, want Unauthenticated", status.Code(err))
			}
		})
	}
}

func TestUnaryInterceptor_TokensDisabled(t *testing.T) {
	a := NewAuthenticator(nil, nil, nil)
	_, err := callUnary(t, a, metadata.Pairs("authorization", "Bearer abc"))
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestRequireCaller(t *testing.T) {
	interceptor := RequireCaller(func(m string) bool { return m == "/svc/Update" })
	ok := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	anon := WithAuth(context.Background(), anonymousContext)
	alice := WithAuth(context.Background(), &AuthContext{Principal: "alice", Method: MethodJWT})

	if _, err := interceptor(anon, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Get"}, ok); err != nil {
		t.Errorf("anonymous read rejected: %v", err)
	}
	if _, err := interceptor(anon, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Update"}, ok); status.Code(err) != codes.Unauthenticated {
		t.Errorf("anonymous update code = %v, want Unauthenticated", status.Code(err))
	}
	if _, err := interceptor(alice, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/Update"}, ok); err != nil {
		t.Errorf("authenticated update rejected: %v", err)
	}
}
