package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cose-gateway/internal/config"
)

func TestRenderConfig_Loads(t *testing.T) {
	dir := t.TempDir()
	p := defaultParams(dir)
	p.JWTSecret = strings.Repeat("s", 44)
	p.Controller = "root"

	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, writeConfig(path, p))
	created, err := writeRootSeed(p.SeedFile)
	require.NoError(t, err)
	assert.True(t, created)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "gateway.db"), cfg.Database.Path)
	assert.Equal(t, []string{"root"}, cfg.State.Controllers)
	assert.Equal(t, []string{"root"}, cfg.State.Managers)
	assert.Equal(t, "key_1", cfg.State.KeyName)
	assert.False(t, cfg.Tailscale.Enabled)

	seed, err := cfg.Keyring.LoadRootSeed()
	require.NoError(t, err)
	assert.Len(t, seed, 32)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestRenderConfig_MemoryAndTailscale(t *testing.T) {
	p := defaultParams("/data")
	p.Driver = config.DriverMemory
	p.Tailscale = true
	p.TSHostname = "vault"
	p.TSHTTPS = true

	var buf bytes.Buffer
	require.NoError(t, renderConfig(&buf, p))
	out := buf.String()
	assert.Contains(t, out, `snapshot_path: "/data/gateway.cbor"`)
	assert.NotContains(t, out, "gateway.db")
	assert.Contains(t, out, `hostname: "vault"`)
	assert.Contains(t, out, "https: true")
	assert.NotContains(t, out, "auth_key")
}

func TestWriteRootSeed_KeepsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0600))

	created, err := writeRootSeed(path)
	require.NoError(t, err)
	assert.False(t, created)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))
}

func TestValidatePrincipal(t *testing.T) {
	p, err := validatePrincipal("  alice  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", string(p))

	for _, bad := range []string{"", "   ", "anonymous", strings.Repeat("x", 101)} {
		_, err := validatePrincipal(bad)
		assert.Error(t, err, "%q", bad)
	}
}

func TestSetupLogger_Text(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn"}, &buf)

	logger.Info("hidden")
	logger.With("component", "store").WithGroup("req").Warn("slow query", "ms", 120)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN slow query component=store req.ms=120")
}

func TestSetupLogger_JSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("hello", "k", "v")

	assert.Contains(t, buf.String(), `"msg":"hello"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
