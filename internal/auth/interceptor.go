// ABOUTME: gRPC interceptors for authenticating requests using JWT or SSH keys
// ABOUTME: Extracts auth from metadata and populates context for handlers

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// ErrUnauthenticated wraps every credential failure.
var ErrUnauthenticated = errors.New("unauthenticated")

// Authenticator resolves request credentials to a principal. Requests with
// no credentials at all resolve to the anonymous principal; requests with
// bad credentials are rejected.
type Authenticator struct {
	tokens TokenVerifier
	ssh    *SSHVerifier
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator. Either verifier may be nil to
// disable that method.
func NewAuthenticator(tokens TokenVerifier, ssh *SSHVerifier, logger *slog.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, ssh: ssh, logger: logger}
}

// Authenticate inspects the credential fields returned by get. SSH headers
// take precedence over a bearer token.
func (a *Authenticator) Authenticate(get func(key string) string, peerAddr string) (*AuthContext, error) {
	if req := ExtractSSHAuth(get); req != nil {
		if a.ssh == nil {
			return nil, a.fail(peerAddr, "ssh auth not configured")
		}
		if err := req.validate(); err != nil {
			return nil, a.fail(peerAddr, err.Error())
		}
		p, err := a.ssh.Verify(req)
		if err != nil {
			return nil, a.fail(peerAddr, "ssh verification failed", "error", err)
		}
		return &AuthContext{Principal: p, Method: MethodSSH}, nil
	}

	header := get("authorization")
	if header == "" {
		return anonymousContext, nil
	}
	token, errMsg := extractBearerToken(header)
	if errMsg != "" {
		return nil, a.fail(peerAddr, errMsg)
	}
	if a.tokens == nil {
		return nil, a.fail(peerAddr, "token auth not configured")
	}
	p, err := a.tokens.Verify(token)
	if err != nil {
		return nil, a.fail(peerAddr, "invalid token", "error", err)
	}
	return &AuthContext{Principal: p, Method: MethodJWT}, nil
}

func (a *Authenticator) fail(peerAddr, reason string, attrs ...any) error {
	if a.logger != nil {
		base := []any{"reason", reason}
		if peerAddr != "" {
			base = append(base, "peer_addr", peerAddr)
		}
		a.logger.Warn("auth failure", append(base, attrs...)...)
	}
	return errors.Join(ErrUnauthenticated, errors.New(reason))
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func (a *Authenticator) fromIncoming(ctx context.Context) (*AuthContext, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	get := func(key string) string {
		if vals := md.Get(key); len(vals) > 0 {
			return vals[0]
		}
		return ""
	}
	var addr string
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		addr = p.Addr.String()
	}
	authCtx, err := a.Authenticate(get, addr)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, err.Error())
	}
	return authCtx, nil
}

// UnaryInterceptor returns a gRPC unary interceptor that authenticates requests.
func (a *Authenticator) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		authCtx, err := a.fromIncoming(ctx)
		if err != nil {
			return nil, err
		}
		return handler(WithAuth(ctx, authCtx), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor that authenticates requests.
func (a *Authenticator) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		authCtx, err := a.fromIncoming(ss.Context())
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{
			ServerStream: ss,
			ctx:          WithAuth(ss.Context(), authCtx),
		})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
