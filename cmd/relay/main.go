package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/opendata-relay/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/opendata-relay/internal/adapter/kafka"
	natsadapter "github.com/couchcryptid/opendata-relay/internal/adapter/nats"
	"github.com/couchcryptid/opendata-relay/internal/adapter/upstream"
	"github.com/couchcryptid/opendata-relay/internal/cache"
	"github.com/couchcryptid/opendata-relay/internal/config"
	"github.com/couchcryptid/opendata-relay/internal/cooldown"
	"github.com/couchcryptid/opendata-relay/internal/fetch"
	"github.com/couchcryptid/opendata-relay/internal/normalize"
	"github.com/couchcryptid/opendata-relay/internal/observability"
	"github.com/couchcryptid/opendata-relay/internal/pipeline"
	"github.com/couchcryptid/opendata-relay/internal/sources"
)

// publishBatchSize caps updates per publisher call.
const publishBatchSize = 50

type closer interface {
	Close() error
}

// alwaysReady is the readiness of a relay that watches nothing.
type alwaysReady struct{}

func (alwaysReady) CheckReadiness(context.Context) error { return nil }

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, logger); err != nil {
		logger.Error("relay exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()

	srcs, err := sources.Load(cfg.SourcesFile, sources.Defaults{
		TTL:        cfg.DefaultCacheTTL,
		MaxRetries: cfg.DefaultMaxRetries,
		BaseDelay:  cfg.DefaultRetryBaseDelay,
		Timeout:    cfg.DefaultTimeout,
	}, cfg.Secrets())
	if err != nil {
		return err
	}
	for _, key := range sources.Unauthorized(srcs) {
		logger.Warn("source credentials not configured, requests will fail upstream", "source", key)
	}

	client := upstream.NewClient(upstream.Options{MaxConnsPerHost: cfg.TransportMaxConnsPerHost}, logger, metrics)
	coord := fetch.New(cache.New(nil), client, logger, metrics, nil)
	if err := sources.RegisterAll(coord, srcs, normalize.NewRegistry(nil)); err != nil {
		return err
	}
	client.SetTokenSource(fetch.NewTokenSource(coord))
	logger.Info("sources registered", "count", len(srcs))

	var closers []closer

	limiterOpts := cooldown.Options{
		Backend:  cfg.CooldownBackend,
		Cooldown: cfg.Cooldown,
		MaxUsers: cfg.CooldownMaxUsers,
	}
	if cfg.CooldownBackend == cooldown.BackendRedis {
		rdb := cooldown.NewRedisClient(cfg.RedisAddr)
		limiterOpts.Redis = rdb
		closers = append(closers, rdb)
	}
	limiter, err := cooldown.New(limiterOpts, metrics)
	if err != nil {
		return err
	}
	logger.Info("cooldown configured", "backend", cfg.CooldownBackend, "cooldown", cfg.Cooldown)

	var publishers pipeline.FanOut
	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaUpdatesTopic, logger)
		publishers = append(publishers, writer)
		closers = append(closers, writer)
		logger.Info("kafka publisher enabled", "topic", cfg.KafkaUpdatesTopic)
	}
	if cfg.NATSURL != "" {
		pub, err := natsadapter.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return err
		}
		publishers = append(publishers, pub)
		closers = append(closers, pub)
		logger.Info("nats publisher enabled", "subject", cfg.NATSSubject)
	}

	// The pipeline publishes changes of watched sources and of anything
	// consumers fetch, so it runs when either is configured.
	var (
		ready httpadapter.ReadinessChecker = alwaysReady{}
		p     *pipeline.Pipeline
	)
	if len(cfg.WatchSources) > 0 || cfg.Publishing() {
		watcher, err := pipeline.NewWatcher(coord, cfg.WatchSources, cfg.WatchInterval, nil, logger)
		if err != nil {
			return err
		}
		if !cfg.Publishing() {
			logger.Info("no publisher configured, watched sources only keep the cache warm")
		}
		ready = watcher
		p = pipeline.New(watcher, pipeline.UpdateSerializer{}, publishers, logger, metrics, publishBatchSize)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, coord, limiter, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start watch pipeline.
	done := make(chan struct{})
	if p != nil {
		go func() {
			defer close(done)
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		close(done)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("watch pipeline did not stop before shutdown timeout")
	}
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}
