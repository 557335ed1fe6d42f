// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSeed = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  grpc_addr: "0.0.0.0:50051"
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"
  checkpoint_interval: "30s"

auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  token_ttl: "24h"

keyring:
  root_seed: "`+testSeed+`"

delegation:
  backend: "redis"
  redis_addr: "localhost:6379"
  redis_db: 2

state:
  name: "prod"
  key_name: "key_1"
  controllers: ["ops"]
  managers: ["ops", "alice"]
  allowed_apis: ["setting_get"]

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("Database.Driver = %q, want default %q", cfg.Database.Driver, DriverSQLite)
	}
	if cfg.Database.CheckpointInterval != 30*time.Second {
		t.Errorf("Database.CheckpointInterval = %v, want 30s", cfg.Database.CheckpointInterval)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 24h", cfg.Auth.TokenTTL)
	}
	if cfg.Delegation.RedisDB != 2 {
		t.Errorf("Delegation.RedisDB = %d, want 2", cfg.Delegation.RedisDB)
	}
	if len(cfg.State.Managers) != 2 || cfg.State.Managers[1] != "alice" {
		t.Errorf("State.Managers = %v", cfg.State.Managers)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  grpc_addr: ":50051"
  http_addr: ":8080"
database:
  path: "./test.db"
keyring:
  root_seed: "`+testSeed+`"
state:
  key_name: "key_1"
  controllers: ["ops"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Keyring.Mode != KeyringLocal {
		t.Errorf("Keyring.Mode = %q, want %q", cfg.Keyring.Mode, KeyringLocal)
	}
	if cfg.Keyring.Timeout != 10*time.Second {
		t.Errorf("Keyring.Timeout = %v, want 10s", cfg.Keyring.Timeout)
	}
	if cfg.Replay.TTL != 10*time.Minute || cfg.Replay.MaxEntries != 100_000 {
		t.Errorf("Replay = %+v, want 10m / 100000", cfg.Replay)
	}
	if cfg.Delegation.Backend != BackendMemory {
		t.Errorf("Delegation.Backend = %q, want %q", cfg.Delegation.Backend, BackendMemory)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want /metrics", cfg.Metrics.Path)
	}
	if cfg.State.Name != "cose-gateway" {
		t.Errorf("State.Name = %q, want cose-gateway", cfg.State.Name)
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
grpc_addr = ":50051"
http_addr = ":8080"

[database]
driver = "memory"
snapshot_path = "/tmp/snap.cbor"

[keyring]
mode = "remote"
signer_url = "http://signer.internal"
timeout = "3s"

[state]
key_name = "key_1"
controllers = ["ops"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Errorf("Database.Driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Database.SnapshotPath != "/tmp/snap.cbor" {
		t.Errorf("Database.SnapshotPath = %q", cfg.Database.SnapshotPath)
	}
	if cfg.Keyring.Timeout != 3*time.Second {
		t.Errorf("Keyring.Timeout = %v, want 3s", cfg.Keyring.Timeout)
	}
}

func TestLoad_EnvExpansionAndOverrides(t *testing.T) {
	t.Setenv("TEST_COSE_SEED", testSeed)
	t.Setenv("COSE_DB_PATH", "/override/gateway.db")
	t.Setenv("TS_AUTHKEY", "tskey-from-env")

	path := writeConfig(t, "config.yaml", `
server:
  grpc_addr: ":50051"
  http_addr: ":8080"
database:
  path: "./ignored.db"
keyring:
  root_seed: "${TEST_COSE_SEED}"
state:
  key_name: "key_1"
  controllers: ["ops"]
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Keyring.RootSeed != testSeed {
		t.Errorf("Keyring.RootSeed was not expanded: %q", cfg.Keyring.RootSeed)
	}
	if cfg.Database.Path != "/override/gateway.db" {
		t.Errorf("Database.Path = %q, want override", cfg.Database.Path)
	}
	if cfg.Tailscale.AuthKey != "tskey-from-env" {
		t.Errorf("Tailscale.AuthKey = %q, want env value", cfg.Tailscale.AuthKey)
	}
}

func TestExpandEnvVars_Unset(t *testing.T) {
	got := expandEnvVars("a ${COSE_TEST_DEFINITELY_UNSET} b")
	if got != "a  b" {
		t.Errorf("expandEnvVars() = %q, want %q", got, "a  b")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	base := `
server:
  grpc_addr: ":50051"
  http_addr: ":8080"
database:
  path: "./test.db"
keyring:
  root_seed: "` + testSeed + `"
state:
  key_name: "key_1"
  controllers: ["ops"]
`
	appendSection := func(extra string) func(string) string {
		return func(s string) string { return s + extra }
	}
	replace := func(old, new string) func(string) string {
		return func(s string) string { return strings.Replace(s, old, new, 1) }
	}

	tests := []struct {
		name    string
		mutate  func(string) string
		wantErr string
	}{
		{"short jwt secret", appendSection("auth:\n  jwt_secret: \"short\"\n"), "jwt_secret"},
		{"bad driver", replace(`path: "./test.db"`, "driver: \"postgres\"\n  path: \"x\""), "database.driver"},
		{"bad seed", replace(testSeed, "abcd"), "root seed"},
		{"remote without url", replace(`root_seed: "`+testSeed+`"`, `mode: "remote"`), "signer_url"},
		{"redis without addr", appendSection("delegation:\n  backend: \"redis\"\n"), "redis_addr"},
		{"bad duration", appendSection("replay:\n  ttl: \"soon\"\n"), "replay.ttl"},
		{"negative duration", appendSection("replay:\n  ttl: \"-1s\"\n"), "positive"},
		{"sample ratio", appendSection("tracing:\n  sample_ratio: 2\n"), "sample_ratio"},
		{"tailscale hostname", appendSection("tailscale:\n  enabled: true\n"), "tailscale.hostname"},
		{"no controllers", replace(`controllers: ["ops"]`, "controllers: []"), "controllers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.mutate(base))
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRootSeed_File(t *testing.T) {
	path := writeConfig(t, "root.seed", testSeed+"\n")
	k := KeyringConfig{RootSeedFile: path}
	seed, err := k.LoadRootSeed()
	if err != nil {
		t.Fatalf("LoadRootSeed() error = %v", err)
	}
	if len(seed) != 32 || seed[31] != 0x1f {
		t.Errorf("LoadRootSeed() = %x", seed)
	}

	if _, err := (&KeyringConfig{RootSeedFile: filepath.Join(t.TempDir(), "missing")}).LoadRootSeed(); err == nil {
		t.Error("LoadRootSeed() with missing file succeeded")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() of a missing file succeeded")
	}
}
