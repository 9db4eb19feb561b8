// Package config provides configuration types and defaults for mindmux.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mindmux/mindmux/internal/log"
)

// Config holds all configuration options for mindmux.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Mux       MuxConfig       `mapstructure:"mux"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// MuxConfig holds terminal multiplexer settings.
type MuxConfig struct {
	// Binary is the multiplexer executable. Default: "tmux".
	Binary string `mapstructure:"binary"`

	// SessionPrefix is prepended to managed session names so discovery
	// can tell managed panes from foreign ones. Default: "mm-".
	SessionPrefix string `mapstructure:"session_prefix"`
}

// SchedulerConfig holds scheduling loop settings.
type SchedulerConfig struct {
	// TickInterval is the periodic scheduling interval.
	// Default: 200ms.
	TickInterval time.Duration `mapstructure:"tick_interval"`

	// Workers is the size of the dispatch worker pool.
	// Default: 4.
	Workers int `mapstructure:"workers"`
}

// RateLimitConfig holds token-bucket limiter settings.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window per caller.
	// Default: 60.
	Max int `mapstructure:"max"`

	// Window is the refill window. Default: 1m.
	Window time.Duration `mapstructure:"window"`
}

// AuthConfig holds authorization settings.
type AuthConfig struct {
	// Token is the shared secret for API callers. When empty the
	// MINDMUX_AUTH_TOKEN env var is consulted at startup.
	Token string `mapstructure:"token"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.mindmux/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Validate checks the full configuration for errors.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}
	if c.Scheduler.TickInterval < 0 {
		return fmt.Errorf("scheduler.tick_interval must not be negative, got %v", c.Scheduler.TickInterval)
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", c.Scheduler.Workers)
	}
	if c.RateLimit.Max < 1 {
		return fmt.Errorf("rate_limit.max must be at least 1, got %d", c.RateLimit.Max)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %v", c.RateLimit.Window)
	}
	return ValidateTracing(c.Tracing)
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	if tracing.Enabled {
		if tracing.Exporter == "file" && tracing.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// ResolveAuthToken returns the configured token, falling back to the
// MINDMUX_AUTH_TOKEN environment variable.
func (c Config) ResolveAuthToken() string {
	if c.Auth.Token != "" {
		return c.Auth.Token
	}
	return os.Getenv("MINDMUX_AUTH_TOKEN")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7337,
		},
		Mux: MuxConfig{
			Binary:        "tmux",
			SessionPrefix: "mm-",
		},
		Scheduler: SchedulerConfig{
			TickInterval: 200 * time.Millisecond,
			Workers:      4,
		},
		RateLimit: RateLimitConfig{
			Max:    60,
			Window: time.Minute,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from state dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# MindMux Configuration

# HTTP listener
server:
  host: 127.0.0.1
  port: 7337

# Terminal multiplexer settings
mux:
  binary: tmux
  session_prefix: mm-   # Prefix for managed session names

# Scheduling loop
scheduler:
  tick_interval: 200ms  # Periodic scheduling interval
  workers: 4            # Dispatch worker pool size

# Per-caller request rate limiting
rate_limit:
  max: 60
  window: 1m

# Authorization
# auth:
#   token: change-me    # Or set MINDMUX_AUTH_TOKEN in the environment

# Distributed tracing
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp
#   file_path: ~/.mindmux/traces/traces.jsonl
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
