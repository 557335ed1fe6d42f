// ABOUTME: Gateway orchestrator that coordinates gRPC and HTTP servers
// ABOUTME: Wires the repository, key oracle, delegation issuer and service behind both transports

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/cose-gateway/internal/auth"
	"github.com/2389/cose-gateway/internal/config"
	"github.com/2389/cose-gateway/internal/delegation"
	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/metrics"
	"github.com/2389/cose-gateway/internal/replay"
	"github.com/2389/cose-gateway/internal/rpc"
	"github.com/2389/cose-gateway/internal/service"
	"github.com/2389/cose-gateway/internal/store"
	"github.com/2389/cose-gateway/internal/tracing"
)

// Gateway owns the service and the servers that expose it.
type Gateway struct {
	config      *config.Config
	version     string
	repo        store.Repository
	service     *service.Service
	replay      *replay.Guard
	ssh         *auth.SSHVerifier
	redis       *redis.Client
	metrics     *metrics.Metrics
	tracing     *tracing.Provider
	checkpoints *checkpointer
	grpcServer  *grpc.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithVersion sets the version reported by the health endpoints and traces.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// initStore opens the configured repository. The memory driver loads its
// snapshot, if any, before returning.
func initStore(cfg config.DatabaseConfig) (store.Repository, *store.MemoryStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		m := store.NewMemoryStore()
		if cfg.SnapshotPath != "" {
			if err := m.LoadFile(cfg.SnapshotPath); err != nil {
				return nil, nil, fmt.Errorf("loading snapshot: %w", err)
			}
		}
		return m, m, nil
	default:
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing store: %w", err)
		}
		return s, nil, nil
	}
}

// initOracle builds the key derivation oracle from a local root seed or
// remote signer and vetKD endpoints.
func initOracle(cfg *config.Config, obs keyring.Observer, tp *tracing.Provider, logger *slog.Logger) (*keyring.Oracle, error) {
	opts := []keyring.Option{keyring.WithObserver(obs), keyring.WithTracerProvider(tp)}

	if cfg.Keyring.Mode == config.KeyringRemote {
		rc := keyring.RemoteConfig{
			SignerURL: cfg.Keyring.SignerURL,
			VetKDURL:  cfg.Keyring.VetKDURL,
			KeyName:   cfg.State.KeyName,
			RetryMax:  cfg.Keyring.RetryMax,
			Timeout:   cfg.Keyring.Timeout,
			Logger:    logger,
		}
		var vetkd keyring.VetKD
		if rc.VetKDURL != "" {
			vetkd = keyring.NewRemoteVetKD(rc)
		}
		logger.Info("using remote keyring", "signer_url", rc.SignerURL, "vetkd", rc.VetKDURL != "")
		return keyring.NewOracle(keyring.NewRemoteSigner(rc), vetkd, opts...), nil
	}

	seed, err := cfg.Keyring.LoadRootSeed()
	if err != nil {
		return nil, err
	}
	signer, err := keyring.NewLocalSigner(seed, cfg.State.KeyName)
	if err != nil {
		return nil, fmt.Errorf("creating local signer: %w", err)
	}
	vetkd, err := keyring.NewLocalVetKD(seed, cfg.State.KeyName)
	if err != nil {
		return nil, fmt.Errorf("creating local vetkd: %w", err)
	}
	logger.Info("using local keyring", "key_name", cfg.State.KeyName)
	return keyring.NewOracle(signer, vetkd, opts...), nil
}

// initIssuer returns a Redis-backed delegation issuer, or nil to let the
// service keep signatures in memory.
func initIssuer(cfg config.DelegationConfig, signer delegation.Signer) (*delegation.Issuer, *redis.Client) {
	if cfg.Backend != config.BackendRedis {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return delegation.NewIssuer(signer, delegation.NewRedisStore(client, cfg.KeyPrefix)), client
}

func principals(names []string) []store.Principal {
	out := make([]store.Principal, 0, len(names))
	for _, n := range names {
		out = append(out, store.Principal(n))
	}
	return out
}

// createGRPCServer creates a gRPC server that authenticates every call and
// rejects anonymous callers on update methods.
func createGRPCServer(authn *auth.Authenticator) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			authn.UnaryInterceptor(),
			auth.RequireCaller(rpc.IsUpdate),
		),
		grpc.ChainStreamInterceptor(authn.StreamInterceptor()),
	)
}

// New creates a Gateway from cfg. On first start it seeds the state record
// from cfg.State.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		config:  cfg,
		version: "dev",
		metrics: metrics.New(),
		logger:  logger.With("component", "gateway"),
	}
	for _, opt := range opts {
		opt(gw)
	}

	tp, err := tracing.Setup(tracing.Options{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     gw.version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	gw.tracing = tp

	repo, mem, err := initStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	gw.repo = repo
	if mem != nil && cfg.Database.SnapshotPath != "" {
		gw.checkpoints = newCheckpointer(mem, cfg.Database.SnapshotPath, cfg.Database.CheckpointInterval, logger)
	}

	oracle, err := initOracle(cfg, gw.metrics, tp, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	issuer, redisClient := initIssuer(cfg.Delegation, oracle)
	gw.redis = redisClient

	gw.replay = replay.New(cfg.Replay.TTL, cfg.Replay.MaxEntries)
	gw.metrics.RegisterGauge("replay_nonces", "ECDH nonces held by the replay guard", func() float64 {
		return float64(gw.replay.Len())
	})

	svc, err := service.New(service.Config{
		Repo:        repo,
		Oracle:      oracle,
		Issuer:      issuer,
		Replay:      gw.replay,
		Controllers: principals(cfg.State.Controllers),
		Logger:      logger,
	}, service.WithObserver(gw.metrics), service.WithTracerProvider(tp))
	if err != nil {
		gw.closeComponents()
		return nil, err
	}
	gw.service = svc

	if _, err := svc.EnsureState(context.Background(), service.StateInit{
		Name:        cfg.State.Name,
		KeyName:     cfg.State.KeyName,
		Managers:    principals(cfg.State.Managers),
		Auditors:    principals(cfg.State.Auditors),
		AllowedAPIs: cfg.State.AllowedAPIs,
	}); err != nil {
		gw.closeComponents()
		return nil, fmt.Errorf("initializing state: %w", err)
	}

	var tokens auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		tokens = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	} else {
		logger.Warn("no jwt_secret configured, bearer tokens disabled")
	}
	gw.ssh = auth.NewSSHVerifier()
	authn := auth.NewAuthenticator(tokens, gw.ssh, logger)

	gw.grpcServer = createGRPCServer(authn)
	rpc.Register(gw.grpcServer, svc, logger)
	logger.Info("auth interceptors enabled", "jwt", tokens != nil, "ssh", true)

	mux := http.NewServeMux()
	mux.Handle("/health", metrics.HealthHandler(gw.version))
	mux.Handle("/health/ready", metrics.ReadinessHandler(gw.version, gw.ready))
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, gw.metrics.Handler())
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}
	mux.Handle(apiPrefix, authn.HTTPMiddleware(gw.apiHandler()))

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return gw, nil
}

// Handler returns the HTTP handler serving health, metrics and the JSON API.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// ready reports whether the repository answers and the state is seeded.
func (g *Gateway) ready(ctx context.Context) error {
	if _, err := g.repo.GetState(ctx); err != nil {
		return fmt.Errorf("state unavailable: %w", err)
	}
	if g.redis != nil {
		if err := g.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unavailable: %w", err)
		}
	}
	return nil
}
