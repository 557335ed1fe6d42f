// ABOUTME: Operator CLI for cose-gateway state, namespaces, settings and audit log
// ABOUTME: Talks gRPC with a bearer token or an SSH key signature

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc/credentials"

	"github.com/2389/cose-gateway/internal/rpc"
)

const banner = `
                                    _           _
  ___ ___  ___  ___         __ _  __| |_ __ ___ (_)_ __
 / __/ _ \/ __|/ _ \_____  / _' |/ _' | '_ ' _ \| | '_ \
| (_| (_) \__ \  __/_____|| (_| | (_| | | | | | | | | | |
 \___\___/|___/\___|       \__,_|\__,_|_| |_| |_|_|_| |_|
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		return
	}

	addr := grpcAddr()
	creds, err := credentialsFromEnv()
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	client, conn, err := rpc.Dial(addr, creds)
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &app{client: client, out: os.Stdout, addr: addr}
	if err := a.run(ctx, cmd, os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			printUsage()
		}
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: cose-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  state                                   Show gateway state")
	fmt.Println("  admin add|remove managers|auditors|apis <values...>")
	fmt.Println("  namespaces [--prev NAME] [--take N]     List namespaces")
	fmt.Println("  namespace create <ns> --manager P [--desc D] [--public]")
	fmt.Println("  namespace info <ns>                     Show a namespace")
	fmt.Println("  namespace delete <ns>                   Delete an empty namespace")
	fmt.Println("  members add|remove <ns> manager|auditor|user <principals...>")
	fmt.Println("  settings <ns> [--user] [--subject P]    List setting keys")
	fmt.Println("  setting get|info <ns> <key> [--user] [--subject P] [--version N]")
	fmt.Println("  audit [--actor P] [--action A] [--limit N]")
	fmt.Println("  call <method> [json]                    Invoke any operation with a raw JSON request")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  COSE_GATEWAY_HOST   Gateway hostname (gRPC on :50051)")
	fmt.Println("  COSE_GATEWAY_GRPC   Gateway gRPC address (overrides COSE_GATEWAY_HOST)")
	fmt.Println("  COSE_TOKEN          Bearer token (default: ~/.config/cose/token)")
	fmt.Println("  COSE_SSH_KEY        SSH private key file, used instead of a token")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  cose-admin namespace create team_a --manager alice")
	fmt.Println("  cose-admin members add team_a user bob carol")
	fmt.Println(`  cose-admin call setting_get '{"path":{"ns":"team_a","key":"YXBp","version":1}}'`)
	fmt.Println()
}

func grpcAddr() string {
	if addr := os.Getenv("COSE_GATEWAY_GRPC"); addr != "" {
		return addr
	}
	if host := os.Getenv("COSE_GATEWAY_HOST"); host != "" {
		return host + ":50051"
	}
	return "localhost:50051"
}

// credentialsFromEnv picks SSH key auth, then a bearer token, then none.
func credentialsFromEnv() (credentials.PerRPCCredentials, error) {
	if keyPath := os.Getenv("COSE_SSH_KEY"); keyPath != "" {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key: %w", err)
		}
		return rpc.SSHCredentials{Signer: signer}, nil
	}
	if token := getToken(); token != "" {
		return rpc.BearerToken(token), nil
	}
	return nil, nil
}

func getToken() string {
	if token := os.Getenv("COSE_TOKEN"); token != "" {
		return token
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "cose", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func fprintf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
