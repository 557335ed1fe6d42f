// ABOUTME: Entry point for the cose-gateway secret and configuration store
// ABOUTME: Dispatches serve, init, bootstrap, token and health subcommands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/cose-gateway/internal/config"
	"github.com/2389/cose-gateway/internal/gateway"
)

// Overridden with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
                                                     _
  ___ ___  ___  ___        __ _  __ _| |_ _____      ____ _ _   _
 / __/ _ \/ __|/ _ \_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| (_) \__ \  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \___\___/|___/\___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                          |___/                             |___/
`

// xdgDir resolves an XDG base directory, falling back to home/rel.
func xdgDir(env string, rel ...string) (string, bool) {
	if dir := os.Getenv(env); dir != "" {
		return dir, true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(append([]string{home}, rel...)...), true
}

// getConfigPath: COSE_CONFIG, else $XDG_CONFIG_HOME/cose/gateway.yaml.
func getConfigPath() string {
	if p := os.Getenv("COSE_CONFIG"); p != "" {
		return p
	}
	dir, ok := xdgDir("XDG_CONFIG_HOME", ".config")
	if !ok {
		return "gateway.yaml"
	}
	return filepath.Join(dir, "cose", "gateway.yaml")
}

// getDataPath holds the database, snapshot, root seed and tailnet state.
func getDataPath() string {
	dir, ok := xdgDir("XDG_DATA_HOME", ".local", "share")
	if !ok {
		return "data"
	}
	return filepath.Join(dir, "cose")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cose-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the gateway server")
		fmt.Println("  init                        Create a new config file interactively")
		fmt.Println("  bootstrap --name PRINCIPAL  Create config, root seed and a controller token")
		fmt.Println("  token --principal P [--ttl D]  Issue a bearer token")
		fmt.Println("  health                      Check gateway readiness")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(os.Args[2:])
	case "token":
		err = runToken(os.Args[2:])
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s", cfg.Database.Driver)
	switch cfg.Database.Driver {
	case config.DriverSQLite:
		gray.Printf(" (%s)", cfg.Database.Path)
	case config.DriverMemory:
		if cfg.Database.SnapshotPath == "" {
			yellow.Print(" [no snapshot, state is lost on exit]")
		} else {
			gray.Printf(" (%s every %s)", cfg.Database.SnapshotPath, cfg.Database.CheckpointInterval)
		}
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Keyring:   %s\n", cfg.Keyring.Mode)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.HTTPS {
			yellow.Print(" [https]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}

	fmt.Println()

	logger.Info("starting cose-gateway",
		"config", configPath,
		"version", version,
		"driver", cfg.Database.Driver,
		"keyring", cfg.Keyring.Mode,
	)

	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("not ready: status %d: %s", resp.StatusCode, body)
	}

	fmt.Println(string(body))
	return nil
}
