package main

import (
	"bytes"
	"context"
	"flag"
	"net"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/2389/cose-gateway/internal/auth"
	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/rpc"
	"github.com/2389/cose-gateway/internal/service"
	"github.com/2389/cose-gateway/internal/store"
)

// newTestApp runs a gateway service on an in-memory listener and returns a
// CLI app authenticated as principal.
func newTestApp(t *testing.T, principal store.Principal) (*app, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	seed := make([]byte, keyring.MinRootSeedSize)
	signer, err := keyring.NewLocalSigner(seed, "test_key")
	require.NoError(t, err)
	vetkd, err := keyring.NewLocalVetKD(seed, "test_key")
	require.NoError(t, err)

	svc, err := service.New(service.Config{
		Repo:        store.NewMemoryStore(),
		Oracle:      keyring.NewOracle(signer, vetkd),
		Controllers: []store.Principal{"root"},
	})
	require.NoError(t, err)
	_, err = svc.EnsureState(context.Background(), service.StateInit{
		Name:     "admin_test",
		KeyName:  "test_key",
		Managers: []store.Principal{"root"},
	})
	require.NoError(t, err)

	tokens := auth.NewJWTVerifier([]byte("admin-cli-secret-admin-cli-secret"))
	sshVerifier := auth.NewSSHVerifier()
	t.Cleanup(sshVerifier.Close)
	authn := auth.NewAuthenticator(tokens, sshVerifier, nil)

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(authn.UnaryInterceptor(), auth.RequireCaller(rpc.IsUpdate)))
	rpc.Register(srv, svc, nil)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	token, err := tokens.Generate(principal, time.Hour)
	require.NoError(t, err)
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(rpc.BearerToken(token)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	var out bytes.Buffer
	return &app{client: rpc.NewClient(conn), out: &out, addr: "bufnet"}, &out
}

func TestApp_NamespaceWorkflow(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "root")

	require.NoError(t, a.run(ctx, "namespace", []string{"create", "team_a", "--manager", "root", "--desc", "Team A"}))
	assert.Contains(t, out.String(), "Created namespace team_a")

	require.NoError(t, a.run(ctx, "members", []string{"add", "team_a", "user", "bob", "carol"}))

	out.Reset()
	require.NoError(t, a.run(ctx, "namespace", []string{"info", "team_a"}))
	assert.Contains(t, out.String(), "Team A")
	assert.Contains(t, out.String(), "bob, carol")

	out.Reset()
	require.NoError(t, a.run(ctx, "namespaces", nil))
	assert.Contains(t, out.String(), "team_a")
	assert.Contains(t, out.String(), "read-write")

	out.Reset()
	require.NoError(t, a.run(ctx, "state", nil))
	assert.Contains(t, out.String(), "admin_test")
	assert.Contains(t, out.String(), "Namespaces:  1")

	out.Reset()
	require.NoError(t, a.run(ctx, "audit", []string{"--action", "create_namespace"}))
	assert.Contains(t, out.String(), "namespace:team_a")

	require.NoError(t, a.run(ctx, "namespace", []string{"delete", "team_a"}))
}

func TestApp_SettingCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "root")

	require.NoError(t, a.run(ctx, "namespace", []string{"create", "team_b", "--manager", "root"}))
	out.Reset()
	require.NoError(t, a.run(ctx, "settings", []string{"team_b"}))
	assert.Contains(t, out.String(), "(no settings)")

	err := a.run(ctx, "setting", []string{"get", "team_b", "missing", "--version", "1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestApp_Call(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, "root")

	require.NoError(t, a.run(ctx, "call", []string{"state_get_info"}))
	assert.Contains(t, out.String(), `"name": "admin_test"`)

	err := a.run(ctx, "call", []string{"state_get_info", "{not json"})
	assert.Error(t, err)

	err = a.run(ctx, "call", []string{"no_such_method"})
	assert.ErrorIs(t, err, service.ErrInvalidArgument)
}

func TestApp_PermissionDenied(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, "mallory")

	err := a.run(ctx, "namespace", []string{"create", "team_c", "--manager", "mallory"})
	assert.ErrorIs(t, err, service.ErrPermissionDenied)

	err = a.run(ctx, "admin", []string{"add", "managers", "mallory"})
	assert.ErrorIs(t, err, service.ErrPermissionDenied)
}

func TestApp_Usage(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestApp(t, "root")

	for _, args := range [][]string{
		{"bogus"},
		{"admin", "add"},
		{"admin", "flip", "managers", "x"},
		{"members", "add", "ns", "owner", "x"},
		{"namespace", "create"},
		{"setting", "get", "ns"},
	} {
		err := a.run(ctx, args[0], args[1:])
		assert.ErrorIs(t, err, errUsage, "%v", args)
	}
}

func TestParseInterspersed(t *testing.T) {
	var managers principalList
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&managers, "manager", "")
	desc := fs.String("desc", "", "")

	pos, err := parseInterspersed(fs, []string{"one", "--manager", "a", "two", "--desc=d", "--manager", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, pos)
	assert.Equal(t, principalList{"a", "b"}, managers)
	assert.Equal(t, "d", *desc)
}
