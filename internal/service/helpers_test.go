// ABOUTME: Shared fixtures for service tests
// ABOUTME: Memory repository, local key oracle and a fixed clock

package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/replay"
	"github.com/2389/cose-gateway/internal/store"
)

const (
	controller store.Principal = "controller"
	admin      store.Principal = "admin"
	manager    store.Principal = "alice"
	auditor    store.Principal = "audrey"
	user       store.Principal = "bob"
	outsider   store.Principal = "eve"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    *Service
	repo   *store.MemoryStore
	oracle *keyring.Oracle
	signer *keyring.LocalSigner
	now    time.Time
}

type envOption func(*envConfig)

type envConfig struct {
	signer keyring.DeterministicSigner
}

func withSigner(s keyring.DeterministicSigner) envOption {
	return func(c *envConfig) { c.signer = s }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	seed := make([]byte, keyring.MinRootSeedSize)
	for i := range seed {
		seed[i] = byte(i)
	}
	signer, err := keyring.NewLocalSigner(seed, "test_key")
	require.NoError(t, err)
	vetkd, err := keyring.NewLocalVetKD(seed, "test_key")
	require.NoError(t, err)

	cfg := envConfig{signer: signer}
	for _, opt := range opts {
		opt(&cfg)
	}

	env := &testEnv{repo: store.NewMemoryStore(), signer: signer, now: testNow}
	env.oracle = keyring.NewOracle(cfg.signer, vetkd)

	guard := replay.New(10*time.Minute, 1000)
	t.Cleanup(func() { guard.Close() })

	env.svc, err = New(Config{
		Repo:        env.repo,
		Oracle:      env.oracle,
		Replay:      guard,
		Controllers: []store.Principal{controller},
	}, WithClock(func() time.Time { return env.now }))
	require.NoError(t, err)

	_, err = env.svc.EnsureState(context.Background(), StateInit{
		Name:     "test_gateway",
		KeyName:  "test_key",
		Managers: []store.Principal{admin},
	})
	require.NoError(t, err)
	return env
}

// createNamespace creates ns with the standard manager, auditor and user.
func (e *testEnv) createNamespace(t *testing.T, name string, mutate ...func(*CreateNamespaceInput)) {
	t.Helper()
	in := &CreateNamespaceInput{
		Name:     name,
		Managers: []store.Principal{manager},
		Auditors: []store.Principal{auditor},
		Users:    []store.Principal{user},
	}
	for _, fn := range mutate {
		fn(in)
	}
	_, err := e.svc.AdminCreateNamespace(context.Background(), admin, in)
	require.NoError(t, err)
}

func (e *testEnv) setStatus(t *testing.T, ns string, status int8) {
	t.Helper()
	err := e.svc.NamespaceUpdateInfo(context.Background(), manager, &UpdateNamespaceInput{Name: ns, Status: &status})
	require.NoError(t, err)
}

// serverPath addresses a server-owned setting filed under the manager.
func serverPath(ns, key string) SettingPath {
	subject := manager
	return SettingPath{NS: ns, Subject: &subject, Key: []byte(key)}
}

func userPath(ns string, subject store.Principal, key string) SettingPath {
	return SettingPath{NS: ns, UserOwned: true, Subject: &subject, Key: []byte(key)}
}

func (p SettingPath) at(version uint32) SettingPath {
	p.Version = version
	return p
}

// cborText encodes s as a CBOR text string.
func cborText(s string) []byte {
	if len(s) >= 24 {
		panic("cborText: short strings only")
	}
	return append([]byte{0x60 | byte(len(s))}, s...)
}
