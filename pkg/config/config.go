package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for costref-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (the database password) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Collector configuration (remote reference-dataset acquisition)
	Collector CollectorConfig `yaml:"collector"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"costref"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"costref_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// CollectorConfig holds settings for acquiring the monthly reference
// archive. Downloads run for minutes on large files, so the timeout here
// also drives the HTTP server's write timeout.
type CollectorConfig struct {
	// URLTemplate receives year and month via fmt.Sprintf, in that order.
	URLTemplate string `yaml:"url_template" env:"COLLECTOR_URL_TEMPLATE" env-default:"https://www.caixa.gov.br/Downloads/sinapi-relatorio-mensal/SINAPI-%d-%02d-referencia.zip"`

	// DownloadTimeout bounds one remote download attempt.
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"COLLECTOR_DOWNLOAD_TIMEOUT" env-default:"5m"`

	// MinArchiveBytes rejects undersized responses as corrupt.
	MinArchiveBytes int64 `yaml:"min_archive_bytes" env:"COLLECTOR_MIN_ARCHIVE_BYTES" env-default:"10000"`

	// MaxRedirects bounds manual redirect following.
	MaxRedirects int `yaml:"max_redirects" env:"COLLECTOR_MAX_REDIRECTS" env-default:"10"`

	// BatchSize is the number of rows written per ingestion transaction.
	BatchSize int `yaml:"batch_size" env:"COLLECTOR_BATCH_SIZE" env-default:"500"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time and set on the
// returned Config. A missing config.yaml is not an error; env defaults
// apply.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if cfg.Collector.BatchSize <= 0 {
		return nil, fmt.Errorf("collector batch_size must be positive, got %d", cfg.Collector.BatchSize)
	}

	return cfg, nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
