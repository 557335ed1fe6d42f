// Package config handles configuration loading for cose-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files (chosen by the .toml
// extension) with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// The server looks for its config at, in order:
//
//  1. The --config flag
//  2. The COSE_CONFIG environment variable
//  3. ./config.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COSE_JWT_SECRET}"
//	keyring:
//	  root_seed: "${COSE_ROOT_SEED}"
//
// COSE_DB_PATH overrides database.path and TS_AUTHKEY fills tailscale.auth_key
// when the file leaves it empty.
//
// # Configuration Sections
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  driver: "sqlite"              # sqlite, memory
//	  path: "/var/lib/cose/gateway.db"
//	  snapshot_path: ""             # memory driver only
//	  checkpoint_interval: "1m"
//
//	keyring:
//	  mode: "local"                 # local, remote
//	  root_seed_file: "/etc/cose/root.seed"
//	  signer_url: ""                # remote mode
//	  vetkd_url: ""
//	  retry_max: 3
//	  timeout: "10s"
//
//	delegation:
//	  backend: "memory"             # memory, redis
//	  redis_addr: "localhost:6379"
//
//	replay:
//	  ttl: "10m"
//	  max_entries: 100000
//
//	state:
//	  name: "cose-gateway"
//	  key_name: "dfx_test_key"
//	  controllers: ["ops"]
//	  managers: ["ops"]
//
// Durations use time.ParseDuration syntax and must be positive.
package config
