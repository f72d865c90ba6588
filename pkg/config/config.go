// Package config loads the application configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kJson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ArionMiles/obligations/pkg/client"
	"github.com/ArionMiles/obligations/pkg/ingest"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Defaults applied by Load when a variable is unset.
const (
	DefaultAddr          = ":8080"
	DefaultTimezone      = "America/Sao_Paulo"
	DefaultIngestPerMin  = 30
	DefaultIngestBurst   = 5
	DefaultShutdownGrace = 10 * time.Second
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Addr is the HTTP listen address.
	// Environment variable: OBLIGATIONS_ADDR
	Addr string `koanf:"OBLIGATIONS_ADDR"`

	// Store selects the storage backend: memory or postgres.
	// Environment variable: OBLIGATIONS_STORE
	Store string `koanf:"OBLIGATIONS_STORE"`

	// Timezone decides what "today" is for commitment reports.
	// Environment variable: OBLIGATIONS_TZ
	Timezone string `koanf:"OBLIGATIONS_TZ"`

	// ShutdownGrace bounds graceful HTTP shutdown.
	// Environment variable: OBLIGATIONS_SHUTDOWN_GRACE
	ShutdownGrace time.Duration `koanf:"OBLIGATIONS_SHUTDOWN_GRACE"`

	Postgres PostgresConfig `koanf:",squash"`
	Fetch    FetchConfig    `koanf:",squash"`
	Ingest   IngestConfig   `koanf:",squash"`

	// ExportLocalized switches CSV exports to ';' and Brazilian amounts.
	// Environment variable: EXPORT_LOCALIZED
	ExportLocalized bool `koanf:"EXPORT_LOCALIZED"`
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	URL      string `koanf:"DATABASE_URL"`
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
	MaxConns int    `koanf:"POSTGRES_MAX_CONNS"`
}

// FetchConfig configures the fiscal page fetcher.
type FetchConfig struct {
	Timeout      time.Duration `koanf:"FETCH_TIMEOUT"`
	UserAgent    string        `koanf:"FETCH_USER_AGENT"`
	MaxBodyBytes int64         `koanf:"FETCH_MAX_BODY_BYTES"`
	// ProxyURL enables the fallback fetcher.
	ProxyURL string `koanf:"FETCH_PROXY_URL"`
}

// IngestConfig configures the scanned document flow.
type IngestConfig struct {
	PreviewTTL time.Duration `koanf:"PREVIEW_TTL"`
	// RatePerMinute limits POST /ingestions across all callers.
	RatePerMinute int `koanf:"INGEST_RATE_PER_MINUTE"`
	RateBurst     int `koanf:"INGEST_RATE_BURST"`
}

// FileVar names the variable pointing at an optional JSON config file. The file
// uses the same keys as the environment, which takes precedence over it.
const FileVar = "OBLIGATIONS_CONFIG_FILE"

// Load reads the optional dotenv files, the optional JSON file named by
// FileVar, then the process environment, and applies defaults. With no dotenv
// files, ".env" is tried. Missing dotenv files are ignored.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading dotenv: %w", err)
	}

	k := koanf.New(".")
	if path := os.Getenv(FileVar); path != "" {
		if err := k.Load(file.Provider(path), kJson.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}
	// Blank variables do not shadow the file.
	skipBlank := func(key, value string) (string, any) {
		if value == "" {
			return "", nil
		}
		return key, value
	}
	if err := k.Load(env.ProviderWithValue("", ".", skipBlank), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.Store == "" {
		c.Store = StoreMemory
	}
	c.Store = strings.ToLower(c.Store)
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = client.DefaultTimeout
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = client.DefaultUserAgent
	}
	if c.Fetch.MaxBodyBytes == 0 {
		c.Fetch.MaxBodyBytes = client.DefaultMaxBodyBytes
	}
	if c.Ingest.PreviewTTL == 0 {
		c.Ingest.PreviewTTL = ingest.DefaultPreviewTTL
	}
	if c.Ingest.RatePerMinute == 0 {
		c.Ingest.RatePerMinute = DefaultIngestPerMin
	}
	if c.Ingest.RateBurst == 0 {
		c.Ingest.RateBurst = DefaultIngestBurst
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" && c.Postgres.Host == "" {
			return errors.New("postgres store requires DATABASE_URL or POSTGRES_HOST")
		}
	default:
		return fmt.Errorf("unknown OBLIGATIONS_STORE %q (want %s or %s)", c.Store, StoreMemory, StorePostgres)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid OBLIGATIONS_TZ: %w", err)
	}
	if c.Fetch.Timeout < 0 {
		return errors.New("FETCH_TIMEOUT must not be negative")
	}
	if c.Fetch.ProxyURL != "" {
		u, err := url.Parse(c.Fetch.ProxyURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid FETCH_PROXY_URL %q", c.Fetch.ProxyURL)
		}
	}
	if c.Ingest.RatePerMinute < 0 || c.Ingest.RateBurst < 0 {
		return errors.New("ingest rate settings must not be negative")
	}
	return nil
}

// Location returns the configured time zone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
