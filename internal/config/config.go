// Package config loads the immutable startup configuration. Precedence is
// built-in defaults, then an optional YAML file with ${VAR} expansion, then
// ABACUSD_* environment variables. Nothing re-reads configuration after
// startup; the loaded value is treated as read-only.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the complete abacusd configuration.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr" env:"ABACUSD_LISTEN_ADDR"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"ABACUSD_LOG_LEVEL"`
	// LogFormat is json or text; text renders with terminal colors.
	LogFormat string `yaml:"log_format" env:"ABACUSD_LOG_FORMAT"`

	// MaxBodyBytes caps the request body size; larger bodies are rejected
	// with a payload-too-large protocol error.
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"ABACUSD_MAX_BODY_BYTES"`

	// RateLimitRPS is the process-wide request rate allowance. Zero or
	// negative disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"ABACUSD_RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"ABACUSD_RATE_LIMIT_BURST"`

	// AllowedOrigins is the Origin allow-list. When empty it is derived
	// from ListenAddr (localhost forms of the bind port).
	AllowedOrigins []string `yaml:"allowed_origins" env:"ABACUSD_ALLOWED_ORIGINS"`

	// EnablePowerTool registers the optional power tool at startup.
	EnablePowerTool bool `yaml:"enable_power_tool" env:"ABACUSD_ENABLE_POWER_TOOL"`

	// MetricsCapacity is the per-series ring buffer size for the duration
	// recorder.
	MetricsCapacity int `yaml:"metrics_capacity" env:"ABACUSD_METRICS_CAPACITY"`

	// Parsed duration values. YAML and env carry the raw strings below.
	SSEKeepAlive  time.Duration `yaml:"-"`
	ShutdownGrace time.Duration `yaml:"-"`

	SSEKeepAliveRaw  string `yaml:"sse_keep_alive" env:"ABACUSD_SSE_KEEP_ALIVE"`
	ShutdownGraceRaw string `yaml:"shutdown_grace" env:"ABACUSD_SHUTDOWN_GRACE"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		LogFormat:       "json",
		MaxBodyBytes:    1 << 20,
		RateLimitRPS:    25,
		RateLimitBurst:  50,
		EnablePowerTool: false,
		MetricsCapacity: 1000,
		SSEKeepAlive:    25 * time.Second,
		ShutdownGrace:   10 * time.Second,
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// path is non-empty), then the environment overlay, then validation. YAML
// content may reference environment variables as ${VAR_NAME}.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Environment overlay. envdecode only touches fields whose variables
	// are set; an entirely unset environment is not an error.
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = defaultOriginsFor(cfg.ListenAddr)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts raw duration strings into time.Duration values.
// Empty raw values keep whatever the defaults established.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.SSEKeepAliveRaw != "" {
		cfg.SSEKeepAlive, err = time.ParseDuration(cfg.SSEKeepAliveRaw)
		if err != nil {
			return fmt.Errorf("parsing sse_keep_alive %q: %w", cfg.SSEKeepAliveRaw, err)
		}
	}

	if cfg.ShutdownGraceRaw != "" {
		cfg.ShutdownGrace, err = time.ParseDuration(cfg.ShutdownGraceRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_grace %q: %w", cfg.ShutdownGraceRaw, err)
		}
	}

	return nil
}

// Validate checks the configuration, returning the first failure.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not host:port: %w", c.ListenAddr, err)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log_format %q is not one of json, text", c.LogFormat)
	}

	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_burst must be positive when rate_limit_rps is set")
	}
	if c.MetricsCapacity <= 0 {
		return fmt.Errorf("metrics_capacity must be positive, got %d", c.MetricsCapacity)
	}
	if c.SSEKeepAlive <= 0 {
		return fmt.Errorf("sse_keep_alive must be positive, got %s", c.SSEKeepAlive)
	}
	if c.ShutdownGrace < 0 {
		return fmt.Errorf("shutdown_grace must not be negative, got %s", c.ShutdownGrace)
	}

	return nil
}

// defaultOriginsFor derives the Origin allow-list from the bind address:
// the localhost forms of the bound port.
func defaultOriginsFor(addr string) []string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		return []string{
			"http://localhost:" + port,
			"http://127.0.0.1:" + port,
		}
	}
	return []string{"http://" + net.JoinHostPort(host, port)}
}
