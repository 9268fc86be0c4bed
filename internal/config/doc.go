// Package config handles configuration loading for corp-gateway.
//
// # Configuration File
//
// Default location (see DefaultPath):
//
//  1. Path from the CORP_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/corp/gateway.yaml
//  3. ~/.config/corp/gateway.yaml
//
// Files ending in .toml are read as TOML; anything else is YAML. Both use
// the same keys.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${CORP_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # optional, gRPC health only
//
//	database:
//	  path: "/var/lib/corp/gateway.db"
//	  driver: "sqlite"             # sqlite (pure Go) or sqlite3 (cgo)
//
//	groups:
//	  max_wallets_per_group: 50
//
//	challenges:
//	  ttl: "5m"
//	  cleanup_interval: "1m"
//	  application_name: "Mek Tycoon"
//	  rate_limit:                  # failed signatures before lockout
//	    per_hour: 10
//	    burst: 10
//
//	verifier:
//	  network: "mainnet"           # mainnet, testnet, any
//
//	notify:
//	  driver: "amqp"               # log or amqp
//	  amqp_url: "${CORP_AMQP_URL}"
//	  exchange: "corp.events"
//	  routing_key: "wallet.linked"
//	  debounce: "0s"               # "10s" collapses repeat links into one group
//	  timeout: "10s"
//
//	tailscale:
//	  enabled: false
//	  hostname: "corp-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"                # debug, info, warn, error
//	  format: "text"               # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
