// ABOUTME: Renders the YAML config written by init and bootstrap
// ABOUTME: Keeps generated files readable with one commented section per concern

package main

import (
	"fmt"
	"strings"
)

// initAnswers are the values collected by init or chosen by bootstrap.
type initAnswers struct {
	HTTPAddr string
	GRPCAddr string
	DBPath   string

	Tailscale   bool
	TSHostname  string
	TSAuthKey   string
	TSEphemeral bool

	MaxWallets string
	Network    string
	AppName    string

	NotifyDriver string
	AMQPURL      string

	JWTSecret string
	LogLevel  string
	LogFormat string

	// Generator names the command in the header comment.
	Generator string
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# corp-gateway configuration\n")
	fmt.Fprintf(&cfg, "# Generated by corp-gateway %s\n\n", a.Generator)

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", a.HTTPAddr)
	if a.GRPCAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", a.GRPCAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n", a.DBPath)
	cfg.WriteString("\n")

	if a.Tailscale {
		cfg.WriteString("tailscale:\n")
		cfg.WriteString("  enabled: true\n")
		fmt.Fprintf(&cfg, "  hostname: %q\n", a.TSHostname)
		if a.TSAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", a.TSAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", a.TSEphemeral)
		cfg.WriteString("\n")
	}

	if a.JWTSecret != "" {
		cfg.WriteString("auth:\n")
		fmt.Fprintf(&cfg, "  jwt_secret: %q\n", a.JWTSecret)
		cfg.WriteString("\n")
	}

	if a.MaxWallets != "" {
		cfg.WriteString("groups:\n")
		fmt.Fprintf(&cfg, "  max_wallets_per_group: %s\n", a.MaxWallets)
		cfg.WriteString("\n")
	}

	cfg.WriteString("challenges:\n")
	cfg.WriteString("  ttl: \"5m\"\n")
	cfg.WriteString("  cleanup_interval: \"1m\"\n")
	if a.AppName != "" {
		fmt.Fprintf(&cfg, "  application_name: %q\n", a.AppName)
	}
	cfg.WriteString("  rate_limit:\n")
	cfg.WriteString("    per_hour: 10\n")
	cfg.WriteString("\n")

	if a.Network != "" {
		cfg.WriteString("verifier:\n")
		fmt.Fprintf(&cfg, "  network: %q\n", a.Network)
		cfg.WriteString("\n")
	}

	driver := a.NotifyDriver
	if driver == "" {
		driver = "log"
	}
	cfg.WriteString("notify:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if driver == "amqp" {
		fmt.Fprintf(&cfg, "  amqp_url: %q\n", a.AMQPURL)
	}
	cfg.WriteString("  debounce: \"0s\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", a.LogFormat)
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	return cfg.String()
}
