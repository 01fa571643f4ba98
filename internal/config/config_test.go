package config

import (
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCWAKey = "CWA-TEST-KEY"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.SourcesFile)
	assert.Equal(t, 4, cfg.TransportMaxConnsPerHost)
	assert.Equal(t, 5*time.Minute, cfg.DefaultCacheTTL)
	assert.Equal(t, 3, cfg.DefaultMaxRetries)
	assert.Equal(t, time.Second, cfg.DefaultRetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.DefaultTimeout)
	assert.Equal(t, 10*time.Second, cfg.Cooldown)
	assert.Equal(t, "memory", cfg.CooldownBackend)
	assert.Equal(t, 10000, cfg.CooldownMaxUsers)
	assert.Empty(t, cfg.WatchSources)
	assert.Equal(t, time.Minute, cfg.WatchInterval)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "opendata-updates", cfg.KafkaUpdatesTopic)
	assert.Equal(t, "opendata.updates", cfg.NATSSubject)
	assert.False(t, cfg.Publishing())
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("SOURCES_FILE", "/etc/relay/sources.yaml")
	t.Setenv("CWA_API_KEY", testCWAKey)
	t.Setenv("TDX_CLIENT_ID", "relay")
	t.Setenv("TDX_CLIENT_SECRET", "s3cret")
	t.Setenv("TRANSPORT_MAX_CONNS_PER_HOST", "8")
	t.Setenv("DEFAULT_CACHE_TTL", "2m")
	t.Setenv("DEFAULT_MAX_RETRIES", "5")
	t.Setenv("DEFAULT_RETRY_BASE_DELAY", "250ms")
	t.Setenv("DEFAULT_TIMEOUT", "3s")
	t.Setenv("COOLDOWN", "0s")
	t.Setenv("COOLDOWN_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("WATCH_SOURCES", "earthquake.normal,alerts.rss")
	t.Setenv("WATCH_INTERVAL", "30s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_UPDATES_TOPIC", "custom-updates")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/etc/relay/sources.yaml", cfg.SourcesFile)
	assert.Equal(t, 8, cfg.TransportMaxConnsPerHost)
	assert.Equal(t, 2*time.Minute, cfg.DefaultCacheTTL)
	assert.Equal(t, 5, cfg.DefaultMaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.DefaultRetryBaseDelay)
	assert.Equal(t, 3*time.Second, cfg.DefaultTimeout)
	assert.Zero(t, cfg.Cooldown)
	assert.Equal(t, "redis", cfg.CooldownBackend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"earthquake.normal", "alerts.rss"}, cfg.WatchSources)
	assert.Equal(t, 30*time.Second, cfg.WatchInterval)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-updates", cfg.KafkaUpdatesTopic)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.True(t, cfg.Publishing())

	secrets := cfg.Secrets()
	assert.Equal(t, testCWAKey, secrets["CWA_API_KEY"])
	assert.Equal(t, "s3cret", secrets["TDX_CLIENT_SECRET"])
}

func TestLoad_InvalidShutdownTimeout(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"negative shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}, "SHUTDOWN_TIMEOUT"},
		{"bad log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"zero conns per host", map[string]string{"TRANSPORT_MAX_CONNS_PER_HOST": "0"}, "TRANSPORT_MAX_CONNS_PER_HOST"},
		{"zero cache ttl", map[string]string{"DEFAULT_CACHE_TTL": "0s"}, "DEFAULT_CACHE_TTL"},
		{"zero retries", map[string]string{"DEFAULT_MAX_RETRIES": "0"}, "DEFAULT_MAX_RETRIES"},
		{"too many retries", map[string]string{"DEFAULT_MAX_RETRIES": "50"}, "DEFAULT_MAX_RETRIES"},
		{"zero timeout", map[string]string{"DEFAULT_TIMEOUT": "0s"}, "DEFAULT_TIMEOUT"},
		{"negative cooldown", map[string]string{"COOLDOWN": "-5s"}, "COOLDOWN"},
		{"unknown cooldown backend", map[string]string{"COOLDOWN_BACKEND": "etcd"}, "COOLDOWN_BACKEND"},
		{"redis without address", map[string]string{"COOLDOWN_BACKEND": "redis"}, "REDIS_ADDR"},
		{"watch with zero interval", map[string]string{"WATCH_SOURCES": "alerts.rss", "WATCH_INTERVAL": "0s"}, "WATCH_INTERVAL"},
		{"tdx id without secret", map[string]string{"TDX_CLIENT_ID": "relay"}, "TDX_CLIENT_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(envconfig.MapLookuper(tt.env))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
