// Package config loads the glyphnotes configuration from an optional .env
// file and the process environment, validates it, and supplies defaults.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/kuitang/glyphnotes/internal/obs"
)

// DefaultEnvFile is read when present. Variables already set in the
// environment win over the file.
const DefaultEnvFile = ".env"

// Config holds all application configuration.
type Config struct {
	// Storage
	DatabasePath string `env:"GLYPH_DATABASE_PATH" env-default:"./data/glyphnotes.db" env-description:"SQLite database file"`
	Seed         bool   `env:"GLYPH_SEED" env-default:"true" env-description:"insert welcome notes into a new database"`
	OpenRetries  uint   `env:"GLYPH_OPEN_RETRIES" env-default:"3" env-description:"attempts to open a locked database"`

	// Editing
	Debounce time.Duration `env:"GLYPH_DEBOUNCE" env-default:"500ms" env-description:"autosave quiet period"`

	// Tag fan-out
	FanoutConcurrency int     `env:"GLYPH_FANOUT_CONCURRENCY" env-default:"4" env-description:"concurrent upserts when removing a tag"`
	FanoutRPS         float64 `env:"GLYPH_FANOUT_RPS" env-default:"0" env-description:"upserts per second when removing a tag, 0 for unlimited"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	LogPretty bool   `env:"LOG_PRETTY" env-default:"false" env-description:"colorized console logs"`
	LogFile   string `env:"LOG_FILE" env-description:"write rotated logs to this file instead of stderr"`
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Load reads envFile (skipped when it does not exist) and then the
// environment, and validates the result. An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every setting is usable.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, "GLYPH_DATABASE_PATH must not be empty")
	}
	if c.OpenRetries < 1 || c.OpenRetries > 10 {
		errs = append(errs, "GLYPH_OPEN_RETRIES must be between 1 and 10")
	}
	if c.Debounce <= 0 {
		errs = append(errs, "GLYPH_DEBOUNCE must be positive")
	} else if c.Debounce > time.Minute {
		errs = append(errs, "GLYPH_DEBOUNCE must be at most 1m")
	}
	if c.FanoutConcurrency < 1 {
		errs = append(errs, "GLYPH_FANOUT_CONCURRENCY must be at least 1")
	}
	if c.FanoutRPS < 0 {
		errs = append(errs, "GLYPH_FANOUT_RPS must not be negative")
	}
	if _, err := obs.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, "LOG_LEVEL must be one of debug, info, warn, error")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// LogOptions returns the logger settings.
func (c *Config) LogOptions() obs.Options {
	return obs.Options{Level: c.LogLevel, Pretty: c.LogPretty, File: c.LogFile}
}

// Usage writes the list of supported environment variables.
func Usage(w io.Writer) {
	header := "Environment variables:"
	cleanenv.FUsage(w, &Config{}, &header)()
}
