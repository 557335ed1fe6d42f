// ABOUTME: Listener setup, serving and shutdown for the gateway servers
// ABOUTME: Plain TCP by default, or one tsnet node carrying both gRPC and HTTP

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"
)

const (
	tailnetGRPCAddr = ":50051"
	shutdownTimeout = 5 * time.Second
)

// listeners are the gRPC and HTTP listeners for one run.
type listeners struct {
	grpc, http net.Listener
}

func (l listeners) close() {
	for _, ln := range []net.Listener{l.grpc, l.http} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// Run serves until ctx is canceled or a server fails, then shuts down.
// The memory driver's checkpoint loop runs for the same span.
func (g *Gateway) Run(ctx context.Context) error {
	l, err := g.listen(ctx)
	if err != nil {
		return err
	}
	if g.checkpoints != nil {
		g.checkpoints.start()
	}

	var runErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutdown requested")
	case runErr = <-g.serve(l):
		g.logger.Error("server failed", "error", runErr)
	}

	// ctx may already be canceled; shutdown gets its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := g.Shutdown(shutdownCtx); runErr == nil {
		runErr = err
	}
	return runErr
}

func (g *Gateway) listen(ctx context.Context) (listeners, error) {
	srv := g.config.Server
	if g.config.Tailscale.Enabled {
		if srv.GRPCAddr != "" || srv.HTTPAddr != "" {
			g.logger.Warn("server addresses are ignored on the tailnet", "grpc_addr", srv.GRPCAddr, "http_addr", srv.HTTPAddr)
		}
		return g.listenTailnet(ctx)
	}

	var l listeners
	var err error
	if l.grpc, err = net.Listen("tcp", srv.GRPCAddr); err != nil {
		return listeners{}, fmt.Errorf("grpc listen %s: %w", srv.GRPCAddr, err)
	}
	if l.http, err = net.Listen("tcp", srv.HTTPAddr); err != nil {
		l.close()
		return listeners{}, fmt.Errorf("http listen %s: %w", srv.HTTPAddr, err)
	}
	return l, nil
}

// serve starts both servers. The channel receives the first failure.
func (g *Gateway) serve(l listeners) <-chan error {
	errCh := make(chan error, 2)
	run := func(name string, ln net.Listener, serve func(net.Listener) error) {
		g.logger.Info("listening", "server", name, "addr", ln.Addr().String())
		if err := serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go run("grpc", l.grpc, g.grpcServer.Serve)
	go run("http", l.http, g.httpServer.Serve)
	return errCh
}

// resolveTailscaleStateDir defaults to ~/.local/share/cose-gateway/tailscale.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("no home directory for tailscale state, set tailscale.state_dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "cose-gateway", "tailscale"), nil
}

func resolveTailscaleAuthKey(configured string) (string, error) {
	if configured == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return configured, nil
}

// listenTailnet joins the tailnet and serves gRPC on :50051 and HTTP on
// :80, or on :443 with tailnet certificates when https is set.
func (g *Gateway) listenTailnet(ctx context.Context) (listeners, error) {
	ts := g.config.Tailscale
	dir, err := resolveTailscaleStateDir(ts.StateDir)
	if err != nil {
		return listeners{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return listeners{}, fmt.Errorf("tailscale state dir: %w", err)
	}
	key, err := resolveTailscaleAuthKey(ts.AuthKey)
	if err != nil {
		return listeners{}, err
	}

	g.tsnetServer = &tsnet.Server{Hostname: ts.Hostname, Dir: dir, Ephemeral: ts.Ephemeral, AuthKey: key}
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		return listeners{}, g.leaveTailnet(fmt.Errorf("joining tailnet: %w", err))
	}
	g.logTailnet(status)

	var l listeners
	if l.grpc, err = g.tsnetServer.Listen("tcp", tailnetGRPCAddr); err != nil {
		return listeners{}, g.leaveTailnet(fmt.Errorf("tailnet grpc listen: %w", err))
	}
	if ts.HTTPS {
		l.http, err = g.tailnetTLS()
	} else {
		l.http, err = g.tsnetServer.Listen("tcp", ":80")
	}
	if err != nil {
		l.close()
		return listeners{}, g.leaveTailnet(fmt.Errorf("tailnet http listen: %w", err))
	}
	return l, nil
}

// leaveTailnet closes a node that failed to come up and returns err.
func (g *Gateway) leaveTailnet(err error) error {
	_ = g.tsnetServer.Close()
	g.tsnetServer = nil
	return err
}

func (g *Gateway) logTailnet(st *ipnstate.Status) {
	attrs := []any{"hostname", g.config.Tailscale.Hostname}
	if len(st.TailscaleIPs) > 0 {
		attrs = append(attrs, "ip", st.TailscaleIPs[0].String())
	} else {
		g.logger.Warn("tailnet node has no addresses")
	}
	if st.Self != nil {
		attrs = append(attrs, "dns_name", st.Self.DNSName)
	}
	g.logger.Info("joined tailnet", attrs...)
}

func (g *Gateway) tailnetTLS() (net.Listener, error) {
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		return nil, fmt.Errorf("tailnet local client: %w", err)
	}
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		return nil, err
	}
	return tls.NewListener(ln, &tls.Config{GetCertificate: lc.GetCertificate, MinVersion: tls.VersionTLS12}), nil
}

func closeErr(label string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", label, err)
}

// stopGRPC drains in-flight calls until ctx expires, then force-stops.
func (g *Gateway) stopGRPC(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.grpcServer.GracefulStop()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.grpcServer.Stop()
		<-done
	}
}

// closeComponents releases everything created before the servers. The
// checkpointer goes first so its final snapshot sees a live store.
func (g *Gateway) closeComponents() []error {
	var errs []error
	if g.checkpoints != nil {
		errs = append(errs, closeErr("snapshot", g.checkpoints.stop()))
	}
	if g.redis != nil {
		errs = append(errs, closeErr("redis", g.redis.Close()))
	}
	if g.replay != nil {
		g.replay.Close()
	}
	if g.ssh != nil {
		g.ssh.Close()
	}
	if g.repo != nil {
		errs = append(errs, closeErr("store", g.repo.Close()))
	}
	return errs
}

// Shutdown stops both servers, leaves the tailnet, writes the final
// snapshot and closes the store, Redis client and tracer provider.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down")
	errs := []error{closeErr("http", g.httpServer.Shutdown(ctx))}
	g.stopGRPC(ctx)
	if g.tsnetServer != nil {
		errs = append(errs, closeErr("tailnet", g.tsnetServer.Close()))
	}
	errs = append(errs, g.closeComponents()...)
	errs = append(errs, closeErr("tracing", g.tracing.Shutdown(ctx)))
	return errors.Join(errs...)
}
