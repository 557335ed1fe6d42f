// Package gateway runs the cose-gateway process.
//
// # Overview
//
// New wires the configured repository (SQLite or in-memory with CBOR
// snapshots), the key derivation oracle (local root seed or remote signer),
// the delegation signature store (memory or Redis) and the nonce replay
// guard into a service.Service, then exposes it twice:
//
//   - gRPC: cose.v1.CoseService, one unary method per operation, JSON codec
//   - HTTP: POST /api/{method} with the same JSON request envelopes
//
// Both transports share one auth.Authenticator. Callers without credentials
// run as the anonymous principal and may only use query operations.
//
// # HTTP Endpoints
//
//   - GET /health - liveness
//   - GET /health/ready - state record readable (and Redis reachable when used)
//   - GET /metrics - Prometheus exposition, when metrics.enabled
//   - POST /api/{method} - gateway operations
//
// API errors are JSON objects {"error": ..., "kind": ...} where kind is the
// service error class, e.g. "permission_denied" (403) or "version_mismatch"
// (409).
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
//	err = gw.Run(ctx) // blocks until ctx is canceled, then shuts down
//
// With Tailscale enabled the gateway joins the tailnet through tsnet and
// listens on :50051 (gRPC) and :80 or :443 (HTTP) instead of the configured
// addresses.
package gateway
