// Package config loads relay settings from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR, default=:8080"`
	LogLevel        string        `env:"LOG_LEVEL, default=info"`
	LogFormat       string        `env:"LOG_FORMAT, default=json"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT, default=10s"`

	// SourcesFile optionally overrides the embedded source catalog.
	SourcesFile string `env:"SOURCES_FILE"`

	// Upstream credentials. Secrets are never logged.
	CWAAPIKey       string `env:"CWA_API_KEY"`
	MOENVAPIKey     string `env:"MOENV_API_KEY"`
	TDXClientID     string `env:"TDX_CLIENT_ID"`
	TDXClientSecret string `env:"TDX_CLIENT_SECRET"`

	TransportMaxConnsPerHost int `env:"TRANSPORT_MAX_CONNS_PER_HOST, default=4"`

	// Defaults for catalog entries that leave these unset.
	DefaultCacheTTL       time.Duration `env:"DEFAULT_CACHE_TTL, default=5m"`
	DefaultMaxRetries     int           `env:"DEFAULT_MAX_RETRIES, default=3"`
	DefaultRetryBaseDelay time.Duration `env:"DEFAULT_RETRY_BASE_DELAY, default=1s"`
	DefaultTimeout        time.Duration `env:"DEFAULT_TIMEOUT, default=10s"`

	// Per-user cooldown on the HTTP API. Zero disables it.
	Cooldown         time.Duration `env:"COOLDOWN, default=10s"`
	CooldownBackend  string        `env:"COOLDOWN_BACKEND, default=memory"`
	CooldownMaxUsers int           `env:"COOLDOWN_MAX_USERS, default=10000"`
	RedisAddr        string        `env:"REDIS_ADDR"`

	// Watch pipeline. Nothing is watched unless WATCH_SOURCES is set.
	WatchSources  []string      `env:"WATCH_SOURCES"`
	WatchInterval time.Duration `env:"WATCH_INTERVAL, default=1m"`

	// Update publishers. Each is enabled by setting its address.
	KafkaBrokers      []string `env:"KAFKA_BROKERS"`
	KafkaUpdatesTopic string   `env:"KAFKA_UPDATES_TOPIC, default=opendata-updates"`
	NATSURL           string   `env:"NATS_URL"`
	NATSSubject       string   `env:"NATS_SUBJECT, default=opendata.updates"`
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	return load(envconfig.OsLookuper())
}

func load(lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(context.Background(), &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.LogFormat != "json" && c.LogFormat != "text":
		return errors.New("LOG_FORMAT must be json or text")
	case c.ShutdownTimeout <= 0:
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	case c.TransportMaxConnsPerHost <= 0:
		return errors.New("TRANSPORT_MAX_CONNS_PER_HOST must be positive")
	case c.DefaultCacheTTL <= 0:
		return errors.New("DEFAULT_CACHE_TTL must be positive")
	case c.DefaultMaxRetries < 1 || c.DefaultMaxRetries > 10:
		return errors.New("DEFAULT_MAX_RETRIES must be between 1 and 10")
	case c.DefaultRetryBaseDelay < 0:
		return errors.New("DEFAULT_RETRY_BASE_DELAY must not be negative")
	case c.DefaultTimeout <= 0:
		return errors.New("DEFAULT_TIMEOUT must be positive")
	case c.Cooldown < 0:
		return errors.New("COOLDOWN must not be negative")
	case c.CooldownBackend != "memory" && c.CooldownBackend != "redis":
		return errors.New("COOLDOWN_BACKEND must be memory or redis")
	case c.CooldownBackend == "redis" && c.RedisAddr == "":
		return errors.New("COOLDOWN_BACKEND is redis but REDIS_ADDR is not set")
	case c.CooldownMaxUsers <= 0:
		return errors.New("COOLDOWN_MAX_USERS must be positive")
	case len(c.WatchSources) > 0 && c.WatchInterval <= 0:
		return errors.New("WATCH_INTERVAL must be positive")
	case (c.TDXClientID == "") != (c.TDXClientSecret == ""):
		return errors.New("TDX_CLIENT_ID and TDX_CLIENT_SECRET must be set together")
	case len(c.KafkaBrokers) > 0 && c.KafkaUpdatesTopic == "":
		return errors.New("KAFKA_UPDATES_TOPIC is required when KAFKA_BROKERS is set")
	case c.NATSURL != "" && c.NATSSubject == "":
		return errors.New("NATS_SUBJECT is required when NATS_URL is set")
	}
	return nil
}

// Secrets maps the secret names referenced by the source catalog to their
// configured values.
func (c *Config) Secrets() map[string]string {
	return map[string]string{
		"CWA_API_KEY":       c.CWAAPIKey,
		"MOENV_API_KEY":     c.MOENVAPIKey,
		"TDX_CLIENT_ID":     c.TDXClientID,
		"TDX_CLIENT_SECRET": c.TDXClientSecret,
	}
}

// Publishing reports whether any update publisher is configured.
func (c *Config) Publishing() bool {
	return len(c.KafkaBrokers) > 0 || c.NATSURL != ""
}
