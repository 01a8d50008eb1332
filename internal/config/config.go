// Package config loads server configuration from the environment.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the server configuration.
type Config struct {
	Port            string   `env:"PORT" envDefault:"8080"`
	SupportedTables []string `env:"SUPPORTED_TABLES" envDefault:"default_table" envSeparator:","`
	GridRows        int      `env:"GRID_ROWS" envDefault:"5"`
	GridCols        int      `env:"GRID_COLS" envDefault:"5"`
	DBPath          string   `env:"DB_PATH" envDefault:"data/journal.db"`
	JournalEnabled  bool     `env:"JOURNAL_ENABLED" envDefault:"true"`
	LogLevel        string   `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string   `env:"LOG_FORMAT" envDefault:"json"`
	MaxMessageSize  int64    `env:"MAX_MESSAGE_SIZE" envDefault:"65536"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS" envSeparator:","`
}

// Load reads an optional .env file and parses the environment into a Config.
// It reports whether a .env file was loaded.
func Load(files ...string) (*Config, bool, error) {
	loaded := godotenv.Load(files...) == nil

	cfg, err := Parse()
	if err != nil {
		return nil, loaded, err
	}
	return cfg, loaded, nil
}

// Parse parses the current environment into a validated Config.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.GridRows <= 0 || c.GridCols <= 0 {
		return fmt.Errorf("grid dimensions must be positive, got %dx%d", c.GridRows, c.GridCols)
	}
	if len(c.SupportedTables) == 0 {
		return errors.New("at least one supported table is required")
	}
	for _, id := range c.SupportedTables {
		if id == "" {
			return errors.New("supported table IDs must not be empty")
		}
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	return nil
}
