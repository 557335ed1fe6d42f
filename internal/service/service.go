// ABOUTME: Service wiring, serialization and shared helpers
// ABOUTME: Holds the repository, key oracle, delegation issuer and replay guard

package service

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/cose-gateway/internal/delegation"
	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/replay"
	"github.com/2389/cose-gateway/internal/store"
)

const tracerName = "github.com/2389/cose-gateway/internal/service"

// Observer receives the outcome of every operation.
type Observer interface {
	ObserveOperation(method string, d time.Duration, err error)
	AddPayloadBytes(ns string, n int)
}

// Config holds the collaborators of a Service. Repo and Oracle are required.
type Config struct {
	Repo   store.Repository
	Oracle *keyring.Oracle
	// Issuer defaults to an in-memory issuer signing with Oracle.
	Issuer *delegation.Issuer
	// Replay may be nil, which disables nonce replay checks.
	Replay *replay.Guard
	// Controllers may change global managers, auditors and the allow-list.
	Controllers []store.Principal
	Logger      *slog.Logger
}

// Option configures optional behaviour.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandom replaces crypto/rand as the source of ECDH secrets and token ids.
func WithRandom(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

// WithObserver reports operations to obs.
func WithObserver(obs Observer) Option {
	return func(s *Service) { s.observer = obs }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer(tracerName) }
}

// Service implements every gateway operation.
type Service struct {
	// mu serializes operations. It is never held across oracle calls.
	mu sync.Mutex

	repo        store.Repository
	oracle      *keyring.Oracle
	issuer      *delegation.Issuer
	replay      *replay.Guard
	controllers store.Principals

	now      func() time.Time
	rand     io.Reader
	observer Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

// New creates a Service.
func New(cfg Config, opts ...Option) (*Service, error) {
	if cfg.Repo == nil {
		return nil, errors.New("service: repository is required")
	}
	if cfg.Oracle == nil {
		return nil, errors.New("service: oracle is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:        cfg.Repo,
		oracle:      cfg.Oracle,
		issuer:      cfg.Issuer,
		replay:      cfg.Replay,
		controllers: store.NewPrincipals(cfg.Controllers...),
		now:         time.Now,
		rand:        rand.Reader,
		tracer:      otel.Tracer(tracerName),
		logger:      logger.With("component", "service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.issuer == nil {
		s.issuer = delegation.NewIssuer(cfg.Oracle, delegation.NewMemoryStore(s.now))
	}
	return s, nil
}

// begin starts a span for method and returns a function that ends it,
// records the outcome and translates err into the service taxonomy.
func (s *Service) begin(ctx context.Context, method string) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "service."+method, trace.WithAttributes(
		attribute.String("cose.method", method),
	))
	return ctx, func(errp *error) {
		*errp = translate(*errp)
		if *errp != nil {
			span.RecordError(*errp)
			span.SetStatus(codes.Error, (*errp).Error())
		}
		span.End()
		if s.observer != nil {
			s.observer.ObserveOperation(method, time.Since(start), *errp)
		}
	}
}

func (s *Service) nowMS() uint64 {
	return uint64(s.now().UnixMilli())
}

func authenticated(caller store.Principal) error {
	if caller.IsAnonymous() {
		return ErrUnauthenticated
	}
	return nil
}

// state returns the persisted state, or an empty one before EnsureState.
func (s *Service) state(ctx context.Context) (*store.State, error) {
	st, err := s.repo.GetState(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return &store.State{}, nil
	}
	return st, err
}

// allowed enforces the API allow-list. Callers hold mu.
func (s *Service) allowed(ctx context.Context, method string) error {
	st, err := s.state(ctx)
	if err != nil {
		return err
	}
	if !st.APIAllowed(method) {
		return denied("API %s not allowed", method)
	}
	return nil
}

// beginUpdate runs the checks every mutation shares: authenticated caller
// and allow-list. Callers hold mu.
func (s *Service) beginUpdate(ctx context.Context, caller store.Principal, method string) error {
	if err := authenticated(caller); err != nil {
		return err
	}
	return s.allowed(ctx, method)
}

// audit records a committed mutation. Failures are logged, not returned.
func (s *Service) audit(ctx context.Context, caller store.Principal, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	err := s.repo.AppendAuditLog(ctx, &store.AuditEntry{
		Actor:      caller,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Detail:     detail,
	})
	if err != nil {
		s.logger.Warn("failed to append audit log", "action", action, "target", targetID, "error", err)
	}
}

func (s *Service) addPayloadBytes(ns string, n int) {
	if s.observer != nil && n > 0 {
		s.observer.AddPayloadBytes(ns, n)
	}
}

func saturatingAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func saturatingMul(a, b uint64) uint64 {
	if a != 0 && a*b/a != b {
		return ^uint64(0)
	}
	return a * b
}
