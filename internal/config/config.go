// Package config loads runtime configuration from .env file, environment
// variables, and CLI overrides, in that ascending priority order — the same
// caarlos0/env + godotenv shape the teacher uses.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable the pipeline needs. Field names mirror the
// environment variables except where one var composes several fields
// (DatabaseURL is built from the discrete Postgres* fields when not set
// directly).
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"skype_archive"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"postgres"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`

	OutputDir     string `env:"OUTPUT_DIR" envDefault:"./output"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	MemoryLimitMB int    `env:"MEMORY_LIMIT_MB" envDefault:"512"`
	ChunkSize     int    `env:"CHUNK_SIZE" envDefault:"100"`
	BatchSize     int    `env:"BATCH_SIZE" envDefault:"500"`
	MaxWorkers    int    `env:"MAX_WORKERS" envDefault:"4"`

	CheckpointInterval int `env:"CHECKPOINT_INTERVAL" envDefault:"50"`

	// RawAttachmentPolicy controls whether the verbatim export bytes are
	// retained on the archive row. One of "store" or "discard".
	RawAttachmentPolicy string `env:"RAW_ATTACHMENT_POLICY" envDefault:"discard"`
}

// EffectiveDatabaseURL returns DatabaseURL if set, otherwise a URL composed
// from the discrete Postgres* fields.
func (c *Config) EffectiveDatabaseURL() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PostgresUser, c.PostgresPassword, c.PostgresHost, c.PostgresPort, c.PostgresDB)
}

// StoreRawBlob reports whether RawAttachmentPolicy requests retaining the
// verbatim export bytes.
func (c *Config) StoreRawBlob() bool {
	return c.RawAttachmentPolicy == "store"
}

// Validate checks cross-field invariants Load cannot enforce via struct tags.
func (c *Config) Validate() error {
	if c.RawAttachmentPolicy != "store" && c.RawAttachmentPolicy != "discard" {
		return fmt.Errorf("RAW_ATTACHMENT_POLICY must be %q or %q, got %q", "store", "discard", c.RawAttachmentPolicy)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be >= 1")
	}
	if c.ChunkSize < 1 || c.BatchSize < 1 {
		return fmt.Errorf("CHUNK_SIZE and BATCH_SIZE must be >= 1")
	}
	return nil
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	DatabaseURL string
	OutputDir   string
	LogLevel    string
	FilePath    string
}

// Load reads configuration from .env file, environment variables, and CLI
// overrides. Priority: CLI flags > environment variables > .env file >
// struct defaults.
func Load(overrides Overrides) (*Config, error) {
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.OutputDir != "" {
		cfg.OutputDir = overrides.OutputDir
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
