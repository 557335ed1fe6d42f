// ABOUTME: gRPC service registration for the gateway operations
// ABOUTME: Builds the service descriptor from the method table and maps errors to status codes

package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/cose-gateway/internal/auth"
	"github.com/2389/cose-gateway/internal/service"
)

// coseServer is the handler type registered with grpc.
type coseServer interface {
	service() *service.Service
}

type server struct {
	svc    *service.Service
	logger *slog.Logger
}

func (s *server) service() *service.Service { return s.svc }

// Register adds the gateway service to r.
func Register(r grpc.ServiceRegistrar, svc *service.Service, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.RegisterService(serviceDesc(), &server{svc: svc, logger: logger.With("component", "grpc")})
}

func serviceDesc() *grpc.ServiceDesc {
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*coseServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "cose/v1/cose.json",
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.RPCName(),
			Handler:    m.handler,
		})
	}
	return desc
}

func (m Method) handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	s := srv.(*server)
	req := m.newRequest()
	if err := dec(req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding %s request: %v", m.Name, err)
	}
	call := func(ctx context.Context, req any) (any, error) {
		resp, err := m.call(ctx, s.svc, auth.Caller(ctx), req)
		if err != nil {
			if service.Kind(err) == "internal" {
				s.logger.Error("operation failed", "method", m.Name, "error", err)
			}
			return nil, ToStatus(err)
		}
		return resp, nil
	}
	if interceptor == nil {
		return call(ctx, req)
	}
	return interceptor(ctx, req, &grpc.UnaryServerInfo{Server: srv, FullMethod: m.FullMethod()}, call)
}

var statusCodes = []struct {
	err  error
	code codes.Code
}{
	{service.ErrPermissionDenied, codes.PermissionDenied},
	{service.ErrNotFound, codes.NotFound},
	{service.ErrVersionMismatch, codes.Aborted},
	{service.ErrAlreadyExists, codes.AlreadyExists},
	{service.ErrPayloadTooLarge, codes.ResourceExhausted},
	{service.ErrInvalidEncoding, codes.InvalidArgument},
	{service.ErrInvalidArgument, codes.InvalidArgument},
	{service.ErrCryptoFailure, codes.Internal},
	{service.ErrDisabled, codes.FailedPrecondition},
	{service.ErrNotEmpty, codes.FailedPrecondition},
	{service.ErrUnauthenticated, codes.Unauthenticated},
}

// ToStatus converts a service error into a gRPC status error. The service
// error kind travels as a message prefix so clients can restore it.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := codes.Internal
	for _, sc := range statusCodes {
		if errors.Is(err, sc.err) {
			code = sc.code
			break
		}
	}
	if errors.Is(err, context.Canceled) {
		code = codes.Canceled
	} else if errors.Is(err, context.DeadlineExceeded) {
		code = codes.DeadlineExceeded
	}
	return status.Error(code, service.Kind(err)+": "+err.Error())
}

// FromStatus restores the service sentinel carried by a status error.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	for _, sc := range statusCodes {
		if rest, ok := strings.CutPrefix(msg, service.Kind(sc.err)+": "); ok {
			return fmt.Errorf("%w%s", sc.err, strings.TrimPrefix(rest, sc.err.Error()))
		}
	}
	if st.Code() == codes.Unauthenticated {
		return fmt.Errorf("%w: %s", service.ErrUnauthenticated, msg)
	}
	return err
}
