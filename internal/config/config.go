// ABOUTME: Configuration loading and parsing for coven-sso
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-sso configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Bot       BotConfig       `yaml:"bot"`
	Storage   StorageConfig   `yaml:"storage"`
	Graph     GraphConfig     `yaml:"graph"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Public HTTPS endpoint for the Bot Framework
}

// BotConfig holds the Azure bot registration and SSO prompt settings
type BotConfig struct {
	AppID                 string   `yaml:"app_id"`
	AppPassword           string   `yaml:"app_password"`
	TenantID              string   `yaml:"tenant_id"`
	AuthorityHost         string   `yaml:"authority_host"`
	ApplicationIDURI      string   `yaml:"application_id_uri"`
	InitiateLoginEndpoint string   `yaml:"initiate_login_endpoint"`
	Scopes                []string `yaml:"scopes"`
	EndOnInvalidMessage   bool     `yaml:"end_on_invalid_message"`

	PromptTimeout    time.Duration `yaml:"-"`
	PromptTimeoutRaw string        `yaml:"prompt_timeout"`
}

// StorageConfig selects the dedup and dialog state backend
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite, postgres
	Path   string `yaml:"path"`   // sqlite database file
	DSN    string `yaml:"dsn"`    // postgres connection string

	DedupTTL    time.Duration `yaml:"-"`
	DedupTTLRaw string        `yaml:"dedup_ttl"`
}

// GraphConfig holds Microsoft Graph settings for the show command
type GraphConfig struct {
	BaseURL string   `yaml:"base_url"`
	Scopes  []string `yaml:"scopes"`
}

// RateLimitConfig bounds inbound activities per conversation
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxTracked        int     `yaml:"max_tracked"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultPath returns the config file location: $COVEN_SSO_CONFIG if set,
// otherwise coven/sso.yaml under the user config directory.
func DefaultPath() string {
	if p := os.Getenv("COVEN_SSO_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "sso.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "coven", "sso.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Storage.DedupTTL == 0 {
		cfg.Storage.DedupTTL = time.Hour
	}
	if len(cfg.Bot.Scopes) == 0 {
		cfg.Bot.Scopes = []string{"User.Read"}
	}
	if len(cfg.Graph.Scopes) == 0 {
		cfg.Graph.Scopes = cfg.Bot.Scopes
	}
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RequestsPerSecond == 0 {
			cfg.RateLimit.RequestsPerSecond = 5
		}
		if cfg.RateLimit.Burst == 0 {
			cfg.RateLimit.Burst = 10
		}
		if cfg.RateLimit.MaxTracked == 0 {
			cfg.RateLimit.MaxTracked = 10000
		}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Bot.AppID == "" {
		return fmt.Errorf("bot.app_id is required")
	}
	if c.Bot.AppPassword == "" {
		return fmt.Errorf("bot.app_password is required")
	}
	if c.Bot.TenantID == "" {
		return fmt.Errorf("bot.tenant_id is required")
	}
	if c.Bot.InitiateLoginEndpoint == "" {
		return fmt.Errorf("bot.initiate_login_endpoint is required")
	}

	switch c.Storage.Driver {
	case DriverMemory, "":
	case DriverSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver)
	}

	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.PromptTimeoutRaw != "" {
		cfg.Bot.PromptTimeout, err = time.ParseDuration(cfg.Bot.PromptTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing prompt_timeout %q: %w", cfg.Bot.PromptTimeoutRaw, err)
		}
	}

	if cfg.Storage.DedupTTLRaw != "" {
		cfg.Storage.DedupTTL, err = time.ParseDuration(cfg.Storage.DedupTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedup_ttl %q: %w", cfg.Storage.DedupTTLRaw, err)
		}
	}

	return nil
}
