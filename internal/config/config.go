// ABOUTME: Configuration loading and parsing for cose-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete cose-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing" toml:"tracing"`
	Keyring    KeyringConfig    `yaml:"keyring" toml:"keyring"`
	Delegation DelegationConfig `yaml:"delegation" toml:"delegation"`
	Replay     ReplayConfig     `yaml:"replay" toml:"replay"`
	State      StateConfig      `yaml:"state" toml:"state"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve HTTP over tailnet TLS on :443
}

// Database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
	// SnapshotPath and CheckpointInterval apply to the memory driver.
	SnapshotPath          string        `yaml:"snapshot_path" toml:"snapshot_path"`
	CheckpointInterval    time.Duration `yaml:"-" toml:"-"`
	CheckpointIntervalRaw string        `yaml:"checkpoint_interval" toml:"checkpoint_interval"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	ServiceName string  `yaml:"service_name" toml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// Keyring modes.
const (
	KeyringLocal  = "local"
	KeyringRemote = "remote"
)

// KeyringConfig selects where key material comes from
type KeyringConfig struct {
	Mode         string `yaml:"mode" toml:"mode"`
	RootSeed     string `yaml:"root_seed" toml:"root_seed"` // hex
	RootSeedFile string `yaml:"root_seed_file" toml:"root_seed_file"`
	SignerURL    string `yaml:"signer_url" toml:"signer_url"`
	VetKDURL     string `yaml:"vetkd_url" toml:"vetkd_url"`
	RetryMax     int    `yaml:"retry_max" toml:"retry_max"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// Delegation signature store backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// DelegationConfig holds the delegation signature store configuration
type DelegationConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	KeyPrefix     string `yaml:"key_prefix" toml:"key_prefix"`
}

// ReplayConfig bounds the ECDH nonce replay cache
type ReplayConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	TTLRaw     string        `yaml:"ttl" toml:"ttl"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
}

// StateConfig seeds the gateway state on first start
type StateConfig struct {
	Name        string   `yaml:"name" toml:"name"`
	KeyName     string   `yaml:"key_name" toml:"key_name"`
	Controllers []string `yaml:"controllers" toml:"controllers"`
	Managers    []string `yaml:"managers" toml:"managers"`
	Auditors    []string `yaml:"auditors" toml:"auditors"`
	AllowedAPIs []string `yaml:"allowed_apis" toml:"allowed_apis"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyEnvOverrides lets deployments override a few values without editing the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TS_AUTHKEY"); v != "" && cfg.Tailscale.AuthKey == "" {
		cfg.Tailscale.AuthKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Keyring.Mode == "" {
		c.Keyring.Mode = KeyringLocal
	}
	if c.Keyring.RetryMax == 0 {
		c.Keyring.RetryMax = 3
	}
	if c.Delegation.Backend == "" {
		c.Delegation.Backend = BackendMemory
	}
	if c.Delegation.KeyPrefix == "" {
		c.Delegation.KeyPrefix = "cose:delegation:"
	}
	if c.Replay.MaxEntries == 0 {
		c.Replay.MaxEntries = 100_000
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "cose-gateway"
	}
	if c.State.Name == "" {
		c.State.Name = "cose-gateway"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server addresses are required unless Tailscale is enabled
	if !c.Tailscale.Enabled {
		if c.Server.GRPCAddr == "" {
			return fmt.Errorf("server.grpc_addr is required (or enable tailscale)")
		}
		if c.Server.HTTPAddr == "" {
			return fmt.Errorf("server.http_addr is required (or enable tailscale)")
		}
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, memory", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Keyring.Mode {
	case KeyringLocal:
		if c.Keyring.RootSeed == "" && c.Keyring.RootSeedFile == "" {
			return fmt.Errorf("keyring.root_seed or keyring.root_seed_file is required in local mode")
		}
		if c.Keyring.RootSeed != "" {
			if _, err := c.Keyring.decodeSeed(c.Keyring.RootSeed); err != nil {
				return err
			}
		}
	case KeyringRemote:
		if c.Keyring.SignerURL == "" {
			return fmt.Errorf("keyring.signer_url is required in remote mode")
		}
	default:
		return fmt.Errorf("keyring.mode %q is not one of local, remote", c.Keyring.Mode)
	}

	switch c.Delegation.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Delegation.RedisAddr == "" {
			return fmt.Errorf("delegation.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("delegation.backend %q is not one of memory, redis", c.Delegation.Backend)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	if c.State.KeyName == "" {
		return fmt.Errorf("state.key_name is required")
	}
	if len(c.State.Controllers) == 0 {
		return fmt.Errorf("state.controllers must name at least one principal")
	}

	return nil
}

// LoadRootSeed returns the local keyring root seed from root_seed or root_seed_file.
func (k *KeyringConfig) LoadRootSeed() ([]byte, error) {
	raw := k.RootSeed
	if raw == "" {
		data, err := os.ReadFile(k.RootSeedFile)
		if err != nil {
			return nil, fmt.Errorf("reading root seed file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	return k.decodeSeed(raw)
}

func (k *KeyringConfig) decodeSeed(raw string) ([]byte, error) {
	seed, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("keyring root seed is not hex: %w", err)
	}
	if len(seed) < 32 {
		return nil, fmt.Errorf("keyring root seed must be at least 32 bytes, got %d", len(seed))
	}
	return seed, nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
		def  time.Duration
	}{
		{"database.checkpoint_interval", cfg.Database.CheckpointIntervalRaw, &cfg.Database.CheckpointInterval, time.Minute},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL, 30 * 24 * time.Hour},
		{"keyring.timeout", cfg.Keyring.TimeoutRaw, &cfg.Keyring.Timeout, 10 * time.Second},
		{"replay.ttl", cfg.Replay.TTLRaw, &cfg.Replay.TTL, 10 * time.Minute},
	}

	for _, f := range fields {
		if f.raw == "" {
			*f.dst = f.def
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
