// ABOUTME: First-run commands: interactive init, one-shot bootstrap and token issuance
// ABOUTME: Generates the JWT secret and keyring root seed and renders the YAML config

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/fatih/color"

	"github.com/2389/cose-gateway/internal/auth"
	"github.com/2389/cose-gateway/internal/config"
	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/store"
)

// configParams fills configTemplate.
type configParams struct {
	GRPCAddr     string
	HTTPAddr     string
	Driver       string
	DBPath       string
	SnapshotPath string
	JWTSecret    string
	SeedFile     string
	KeyName      string
	Controller   string
	Tailscale    bool
	TSHostname   string
	TSAuthKey    string
	TSEphemeral  bool
	TSHTTPS      bool
	LogLevel     string
	LogFormat    string
	Metrics      bool
}

var configTemplate = template.Must(template.New("gateway.yaml").Parse(`# cose-gateway configuration

server:
  grpc_addr: "{{.GRPCAddr}}"
  http_addr: "{{.HTTPAddr}}"

database:
  driver: "{{.Driver}}"
{{- if eq .Driver "memory"}}
  snapshot_path: "{{.SnapshotPath}}"
  checkpoint_interval: "1m"
{{- else}}
  path: "{{.DBPath}}"
{{- end}}

auth:
  jwt_secret: "{{.JWTSecret}}"
  token_ttl: "720h"

keyring:
  mode: "local"
  root_seed_file: "{{.SeedFile}}"

state:
  name: "cose-gateway"
  key_name: "{{.KeyName}}"
  controllers: ["{{.Controller}}"]
  managers: ["{{.Controller}}"]

tailscale:
  enabled: {{.Tailscale}}
{{- if .Tailscale}}
  hostname: "{{.TSHostname}}"
{{- if .TSAuthKey}}
  auth_key: "{{.TSAuthKey}}"
{{- end}}
  ephemeral: {{.TSEphemeral}}
  https: {{.TSHTTPS}}
{{- end}}

logging:
  level: "{{.LogLevel}}"
  format: "{{.LogFormat}}"

metrics:
  enabled: {{.Metrics}}
  path: "/metrics"
`))

func renderConfig(w io.Writer, p configParams) error {
	return configTemplate.Execute(w, p)
}

func defaultParams(dataPath string) configParams {
	return configParams{
		GRPCAddr:     "localhost:50051",
		HTTPAddr:     "localhost:8080",
		Driver:       config.DriverSQLite,
		DBPath:       filepath.Join(dataPath, "gateway.db"),
		SnapshotPath: filepath.Join(dataPath, "gateway.cbor"),
		SeedFile:     filepath.Join(dataPath, "root_seed"),
		KeyName:      "key_1",
		LogLevel:     "info",
		LogFormat:    "text",
	}
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

func newJWTSecret() (string, error) {
	b, err := randomBytes(32)
	if err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// writeRootSeed creates a fresh hex root seed at path unless one exists.
// It reports whether a new seed was written.
func writeRootSeed(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	seed, err := randomBytes(keyring.MinRootSeedSize)
	if err != nil {
		return false, fmt.Errorf("generating root seed: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return false, fmt.Errorf("creating seed directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return false, fmt.Errorf("writing root seed: %w", err)
	}
	_, werr := f.WriteString(hex.EncodeToString(seed) + "\n")
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	return werr == nil, werr
}

func writeConfig(path string, p configParams) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	var buf strings.Builder
	if err := renderConfig(&buf, p); err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}
	// The file holds the JWT secret.
	if err := os.WriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func validatePrincipal(name string) (store.Principal, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", errors.New("principal cannot be empty or whitespace only")
	case len(name) > 100:
		return "", errors.New("principal exceeds maximum length of 100 characters")
	case store.Principal(name).IsAnonymous():
		return "", fmt.Errorf("principal %q is reserved for unauthenticated callers", name)
	}
	return store.Principal(name), nil
}

// tokenPath is where CLI tools look for the operator token.
func tokenPath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "token")
}

// runBootstrap performs first-time setup in one command:
// config with a random JWT secret, a local root seed and a token for the
// controller principal.
func runBootstrap(args []string) error {
	fs := flag.NewFlagSet("bootstrap", flag.ContinueOnError)
	name := fs.String("name", "", "controller principal")
	fs.StringVar(name, "n", "", "controller principal (shorthand)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	if *name == "" {
		return errors.New("--name flag is required")
	}
	principal, err := validatePrincipal(*name)
	if err != nil {
		return err
	}

	configPath := getConfigPath()
	dataPath := getDataPath()

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		secret, err := newJWTSecret()
		if err != nil {
			return err
		}
		p := defaultParams(dataPath)
		p.JWTSecret = secret
		p.Controller = string(principal)
		if err := writeConfig(configPath, p); err != nil {
			return err
		}
		green.Printf("  ✓ Created config: %s\n", configPath)
	} else {
		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Keyring.Mode == config.KeyringLocal && cfg.Keyring.RootSeed == "" {
		created, err := writeRootSeed(cfg.Keyring.RootSeedFile)
		if err != nil {
			return err
		}
		if created {
			green.Printf("  ✓ Created root seed: %s\n", cfg.Keyring.RootSeedFile)
		}
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(principal, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	tp := tokenPath(configPath)
	if err := os.WriteFile(tp, []byte(token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	green.Printf("  ✓ Saved token: %s\n", tp)

	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Controller")
	cyan.Println("  ----------")
	fmt.Printf("  Principal: %s\n", principal)
	fmt.Printf("  Token:     %s (expires %s)\n", tp, time.Now().Add(cfg.Auth.TokenTTL).Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    cose-gateway serve    # start the gateway")
	fmt.Println("    cose-admin state      # verify the gateway state")
	fmt.Println()

	return nil
}

// runToken issues a bearer token signed with the configured secret.
func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	name := fs.String("principal", "", "token subject")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	principal, err := validatePrincipal(*name)
	if err != nil {
		return err
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	if *ttl <= 0 {
		*ttl = cfg.Auth.TokenTTL
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(principal, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("cose-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	dataPath := getDataPath()
	p := defaultParams(dataPath)

	outputFile := prompt(reader, "Config file path", getConfigPath())
	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	p.GRPCAddr = prompt(reader, "gRPC address", p.GRPCAddr)
	p.HTTPAddr = prompt(reader, "HTTP address", p.HTTPAddr)

	fmt.Println("\n--- Storage ---")
	p.Driver = prompt(reader, "Driver (sqlite/memory)", p.Driver)
	if p.Driver == config.DriverMemory {
		p.SnapshotPath = prompt(reader, "Snapshot path", p.SnapshotPath)
	} else {
		p.DBPath = prompt(reader, "SQLite database path", p.DBPath)
	}

	fmt.Println("\n--- Keyring ---")
	p.SeedFile = prompt(reader, "Root seed file (created if missing)", p.SeedFile)
	p.KeyName = prompt(reader, "Key name", p.KeyName)

	fmt.Println("\n--- Access ---")
	controller, err := validatePrincipal(prompt(reader, "Controller principal", ""))
	if err != nil {
		return err
	}
	p.Controller = string(controller)

	fmt.Println("\n--- Tailscale Configuration ---")
	p.Tailscale = yes(prompt(reader, "Enable Tailscale?", "no"))
	if p.Tailscale {
		p.TSHostname = prompt(reader, "Tailscale hostname", "cose-gateway")
		p.TSAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		p.TSEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		p.TSHTTPS = yes(prompt(reader, "Serve HTTPS with tailnet certificates?", "no"))
	}

	fmt.Println("\n--- Observability ---")
	p.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", p.LogLevel)
	p.LogFormat = prompt(reader, "Log format (text/json)", p.LogFormat)
	p.Metrics = yes(prompt(reader, "Expose Prometheus metrics?", "no"))

	secret, err := newJWTSecret()
	if err != nil {
		return err
	}
	p.JWTSecret = secret

	if err := writeConfig(outputFile, p); err != nil {
		return err
	}
	created, err := writeRootSeed(p.SeedFile)
	if err != nil {
		return err
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	if created {
		fmt.Printf("Root seed written to %s (back it up: every stored secret depends on it)\n", p.SeedFile)
	}
	fmt.Println("\nTo start the server:")
	fmt.Printf("  COSE_CONFIG=%s cose-gateway serve\n", outputFile)

	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
