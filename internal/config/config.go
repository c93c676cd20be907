// Package config loads and validates the lens daemon configuration from
// TOML, with defaults suitable for running on a laptop.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// Serve contains listener configuration for the ingest daemon. An empty
// address disables that listener.
type Serve struct {
	SRTListen        string `toml:"srt_listen"`
	QUICListen       string `toml:"quic_listen"`
	CertValidityDays int    `toml:"cert_validity_days"`
}

// Config encapsulates all configuration values for lens.
type Config struct {
	Logging Logging `toml:"logging"`
	Serve   Serve   `toml:"serve"`
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Serve: Serve{
			SRTListen:        ":6000",
			QUICListen:       ":6121",
			CertValidityDays: 14,
		},
	}
}

// Load parses the TOML file at path over the defaults and validates the
// result. An empty path yields validated defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()

		if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not text or json", c.Logging.Format)
	}

	if c.Serve.SRTListen == "" && c.Serve.QUICListen == "" {
		return errors.New("serve: at least one of srt_listen and quic_listen must be set")
	}

	if c.Serve.CertValidityDays < 1 || c.Serve.CertValidityDays > 14 {
		return fmt.Errorf("serve.cert_validity_days must be between 1 and 14, got %d", c.Serve.CertValidityDays)
	}

	return nil
}

// LogLevel maps the configured level string onto slog.Level.
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CertValidity returns the configured certificate lifetime as a duration.
func (c *Config) CertValidity() time.Duration {
	return time.Duration(c.Serve.CertValidityDays) * 24 * time.Hour
}

// CreateSample writes the annotated sample configuration to path, creating
// parent directories as needed.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
