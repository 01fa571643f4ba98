// Package pipeline runs the watch-serialize-publish loop: watched sources are
// refreshed on an interval, changed records become updates, and updates are
// published in batches.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// BatchExtractor returns up to batchSize pending record updates, blocking
// until updates are available or ctx ends.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.Update, error)
}

// Transformer converts a record update into a publishable event.
type Transformer interface {
	Transform(ctx context.Context, u domain.Update) (domain.OutputEvent, error)
}

// BatchLoader writes multiple output events to the destination.
type BatchLoader interface {
	LoadBatch(ctx context.Context, events []domain.OutputEvent) error
}

// Pipeline orchestrates the extract-transform-load loop.
type Pipeline struct {
	extractor   BatchExtractor
	transformer Transformer
	loader      BatchLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	published   atomic.Bool
	batchSize   int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, t Transformer, l BatchLoader, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor:   e,
		transformer: t,
		loader:      l,
		logger:      logger,
		metrics:     metrics,
		batchSize:   batchSize,
	}
}

// Published reports whether at least one batch reached the loader.
func (p *Pipeline) Published() bool {
	return p.published.Load()
}

// Run executes the loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("watch pipeline started", "batch_size", p.batchSize)
	p.metrics.WatchRunning.Set(1)
	defer p.metrics.WatchRunning.Set(0)

	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("watch pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff) {
			return nil
		}
	}
}

// processBatch runs one extract-transform-load cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration) bool {
	updates, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff)
	}
	if len(updates) == 0 {
		return ctx.Err() == nil
	}

	start := time.Now()
	events := make([]domain.OutputEvent, 0, len(updates))
	for _, u := range updates {
		out, err := p.transformer.Transform(ctx, u)
		if err != nil {
			p.logger.Warn("serialize failed, skipping update", "error", err, "source", u.SourceKey, "key", u.CacheKey)
			p.metrics.PublishErrors.Inc()
			continue
		}
		events = append(events, out)
	}
	if len(events) == 0 {
		return true
	}

	p.metrics.PublishBatchSize.Observe(float64(len(events)))
	if !p.loadWithBackoff(ctx, events, backoff) {
		return false
	}
	p.metrics.UpdatesPublished.Add(float64(len(events)))
	p.metrics.PublishDuration.Observe(time.Since(start).Seconds())
	p.published.Store(true)
	return true
}

// loadWithBackoff retries the batch until it is loaded or ctx ends. Updates
// are not re-derivable once extracted, so a failed batch is never dropped.
func (p *Pipeline) loadWithBackoff(ctx context.Context, events []domain.OutputEvent, backoff *time.Duration) bool {
	for {
		err := p.loader.LoadBatch(ctx, events)
		if err == nil {
			*backoff = initialBackoff
			return true
		}
		if ctx.Err() != nil {
			p.logger.Warn("dropping unpublished batch on shutdown", "batch_size", len(events), "error", err)
			return false
		}
		p.metrics.PublishErrors.Inc()
		p.logger.Error("publish batch failed", "error", err, "batch_size", len(events), "backoff", *backoff)
		if !p.backoffOrStop(ctx, backoff) {
			return false
		}
	}
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// FanOut loads every batch into each of its loaders in order.
type FanOut []BatchLoader

// LoadBatch returns the joined errors of all failed loaders. Loaders that
// succeeded see the batch again when the caller retries.
func (f FanOut) LoadBatch(ctx context.Context, events []domain.OutputEvent) error {
	var errs []error
	for _, l := range f {
		if err := l.LoadBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
