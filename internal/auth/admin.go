// ABOUTME: Interceptors that reject anonymous callers on mutating methods
// ABOUTME: Read methods stay open so public namespaces work without credentials

package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MethodFilter reports whether a full gRPC method name requires a caller.
type MethodFilter func(fullMethod string) bool

// RequireCaller returns a unary interceptor that rejects anonymous callers
// for methods matched by requires. Must run after UnaryInterceptor.
func RequireCaller(requires MethodFilter) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if requires(info.FullMethod) && FromContext(ctx).IsAnonymous() {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return handler(ctx, req)
	}
}
