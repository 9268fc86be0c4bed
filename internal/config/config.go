// ABOUTME: Configuration loading and parsing for corp-gateway
// ABOUTME: Supports YAML or TOML files with env var expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete corp-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Groups     GroupsConfig     `yaml:"groups" toml:"groups"`
	Challenges ChallengesConfig `yaml:"challenges" toml:"challenges"`
	Verifier   VerifierConfig   `yaml:"verifier" toml:"verifier"`
	Notify     NotifyConfig     `yaml:"notify" toml:"notify"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses. GRPCAddr is optional and only
// serves the gRPC health service.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path   string `yaml:"path" toml:"path"`
	Driver string `yaml:"driver" toml:"driver"` // sqlite (pure Go) or sqlite3 (cgo)
}

// AuthConfig holds admin token configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// GroupsConfig holds corporation policy
type GroupsConfig struct {
	MaxWalletsPerGroup int `yaml:"max_wallets_per_group" toml:"max_wallets_per_group"`
}

// ChallengesConfig holds signing challenge settings
type ChallengesConfig struct {
	TTL             time.Duration `yaml:"-" toml:"-"`
	CleanupInterval time.Duration `yaml:"-" toml:"-"`
	ApplicationName string        `yaml:"application_name" toml:"application_name"`
	RateLimit       RateLimit     `yaml:"rate_limit" toml:"rate_limit"`

	// Raw string values for unmarshaling
	TTLRaw             string `yaml:"ttl" toml:"ttl"`
	CleanupIntervalRaw string `yaml:"cleanup_interval" toml:"cleanup_interval"`
}

// RateLimit is the per-wallet budget of failed signatures. Burst failures
// lock a wallet out of new challenges until PerHour refills a token.
// PerHour 0 disables the lockout.
type RateLimit struct {
	PerHour int `yaml:"per_hour" toml:"per_hour"`
	Burst   int `yaml:"burst" toml:"burst"`
}

// VerifierConfig holds signature verification settings
type VerifierConfig struct {
	Network string `yaml:"network" toml:"network"` // mainnet, testnet or any
}

// NotifyConfig selects where resync notifications go
type NotifyConfig struct {
	Driver     string        `yaml:"driver" toml:"driver"` // log or amqp
	AMQPURL    string        `yaml:"amqp_url" toml:"amqp_url"`
	Exchange   string        `yaml:"exchange" toml:"exchange"`
	RoutingKey string        `yaml:"routing_key" toml:"routing_key"`
	Debounce   time.Duration `yaml:"-" toml:"-"`
	Timeout    time.Duration `yaml:"-" toml:"-"`

	DebounceRaw string `yaml:"debounce" toml:"debounce"`
	TimeoutRaw  string `yaml:"timeout" toml:"timeout"`
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

// Defaults applied to unset fields.
const (
	DefaultHTTPAddr           = "localhost:8080"
	DefaultDriver             = "sqlite"
	DefaultMaxWalletsPerGroup = 50
	DefaultChallengeTTL       = 5 * time.Minute
	DefaultCleanupInterval    = time.Minute
	DefaultRatePerHour        = 10
	DefaultNetwork            = "mainnet"
	DefaultNotifyDriver       = "log"
	DefaultDebounce           = time.Duration(0) // every commit notifies
	DefaultNotifyTimeout      = 10 * time.Second
	DefaultMetricsPath        = "/metrics"
)

// DefaultPath returns the config file location.
// Priority: CORP_CONFIG > XDG_CONFIG_HOME/corp/gateway.yaml > ~/.config/corp/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("CORP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "corp", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatOf(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a config file syntax.
type Format int

const (
	YAML Format = iota
	TOML
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return TOML
	}
	return YAML
}

// Parse decodes, defaults and validates config text.
func Parse(text string, format Format) (*Config, error) {
	var cfg Config
	switch format {
	case TOML:
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

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

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Groups.MaxWalletsPerGroup == 0 {
		c.Groups.MaxWalletsPerGroup = DefaultMaxWalletsPerGroup
	}
	if c.Challenges.TTL == 0 {
		c.Challenges.TTL = DefaultChallengeTTL
	}
	if c.Challenges.CleanupInterval == 0 {
		c.Challenges.CleanupInterval = DefaultCleanupInterval
	}
	if c.Challenges.RateLimit.PerHour == 0 && c.Challenges.RateLimit.Burst == 0 {
		c.Challenges.RateLimit = RateLimit{PerHour: DefaultRatePerHour, Burst: DefaultRatePerHour}
	}
	if c.Challenges.RateLimit.PerHour > 0 && c.Challenges.RateLimit.Burst == 0 {
		c.Challenges.RateLimit.Burst = c.Challenges.RateLimit.PerHour
	}
	if c.Verifier.Network == "" {
		c.Verifier.Network = DefaultNetwork
	}
	if c.Notify.Driver == "" {
		c.Notify.Driver = DefaultNotifyDriver
	}
	if c.Notify.DebounceRaw == "" {
		c.Notify.Debounce = DefaultDebounce
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = DefaultNotifyTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Database.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("database.driver must be sqlite or sqlite3, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Groups.MaxWalletsPerGroup < 2 {
		return fmt.Errorf("groups.max_wallets_per_group must be at least 2, got %d", c.Groups.MaxWalletsPerGroup)
	}

	if c.Challenges.TTL < 0 || c.Challenges.CleanupInterval < 0 {
		return fmt.Errorf("challenges durations must be positive")
	}
	if c.Challenges.RateLimit.PerHour < 0 || c.Challenges.RateLimit.Burst < 0 {
		return fmt.Errorf("challenges.rate_limit values must not be negative")
	}

	switch strings.ToLower(c.Verifier.Network) {
	case "mainnet", "testnet", "any":
	default:
		return fmt.Errorf("verifier.network must be mainnet, testnet or any, got %q", c.Verifier.Network)
	}

	switch c.Notify.Driver {
	case "log":
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return fmt.Errorf("notify.amqp_url is required when notify.driver is amqp")
		}
	default:
		return fmt.Errorf("notify.driver must be log or amqp, got %q", c.Notify.Driver)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"challenges.ttl", cfg.Challenges.TTLRaw, &cfg.Challenges.TTL},
		{"challenges.cleanup_interval", cfg.Challenges.CleanupIntervalRaw, &cfg.Challenges.CleanupInterval},
		{"notify.debounce", cfg.Notify.DebounceRaw, &cfg.Notify.Debounce},
		{"notify.timeout", cfg.Notify.TimeoutRaw, &cfg.Notify.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
