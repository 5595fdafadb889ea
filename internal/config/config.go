// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for pan115-go. It supports a
// three-layer override chain (defaults -> config file -> environment).
package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Concurrency bounds for transfer workers.
const (
	DefaultConcurrency = 4
	maxConcurrency     = 64
)

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Auth      AuthConfig      `toml:"auth"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
}

// AuthConfig holds the OAuth client settings. ClientID is required for any
// command that talks to the service; the rest have working defaults.
type AuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	OAuthURL     string `toml:"oauth_url"`
	APIURL       string `toml:"api_url"`
}

// TransfersConfig controls parallel transfer workers.
type TransfersConfig struct {
	Concurrency int `toml:"concurrency"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"` // "text" or "json"
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Auth: AuthConfig{
			OAuthURL: "https://passportapi.115.com",
			APIURL:   "https://proapi.115.com",
		},
		Transfers: TransfersConfig{
			Concurrency: DefaultConcurrency,
		},
		Logging: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

// Validate checks configuration invariants. ClientID is deliberately not
// checked here — commands that don't talk to the API (e.g. logout) work
// without it, so the CLI enforces it where needed.
func Validate(cfg *Config) error {
	if cfg.Transfers.Concurrency < 0 || cfg.Transfers.Concurrency > maxConcurrency {
		return fmt.Errorf("transfers.concurrency must be between 0 and %d, got %d",
			maxConcurrency, cfg.Transfers.Concurrency)
	}

	if _, err := ParseLogLevel(cfg.Logging.LogLevel); err != nil {
		return err
	}

	switch cfg.Logging.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.log_format must be \"text\" or \"json\", got %q", cfg.Logging.LogFormat)
	}

	return nil
}

// ParseLogLevel converts a config log level string to a slog.Level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging.log_level must be one of debug, info, warn, error; got %q", level)
	}
}
