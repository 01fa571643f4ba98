// Package fetch coordinates cache lookups, collapsed upstream fetches,
// retries and normalization into a single Get call that always resolves to
// a Fresh, Stale or Failure outcome.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/opendata-relay/internal/adapter/upstream"
	"github.com/couchcryptid/opendata-relay/internal/cache"
	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/normalize"
	"github.com/couchcryptid/opendata-relay/internal/observability"
	"github.com/couchcryptid/opendata-relay/internal/retry"
)

// maxErrorBody bounds how much of a non-2xx body is kept in errors and logs.
const maxErrorBody = 256

// Transport performs a single upstream exchange.
type Transport interface {
	Do(ctx context.Context, src domain.Source, params map[string]string) (*upstream.Response, error)
}

// UpdateHook is called after a fresh fetch produced a record whose content
// differs from the previous record for the same cache key. Hooks run on the
// fetching goroutine and must not block.
type UpdateHook func(domain.Update)

type registration struct {
	src        domain.Source
	normalizer normalize.Normalizer
}

// fetched is the value shared between single-flight participants.
type fetched struct {
	record    any
	fetchedAt time.Time
}

// Coordinator serves normalized records for registered sources.
type Coordinator struct {
	cache     *cache.Cache
	transport Transport
	logger    *slog.Logger
	metrics   *observability.Metrics

	// retryClock drives backoff sleeps. Record timestamps and ages come
	// from the cache clock.
	retryClock clockwork.Clock

	mu      sync.RWMutex
	sources map[string]registration
	hooks   []UpdateHook

	group   singleflight.Group
	digests sync.Map // cache key -> digest of the last cached record
}

// New creates a Coordinator. retryClock drives backoff sleeps between
// attempts; nil uses real time.
func New(c *cache.Cache, transport Transport, logger *slog.Logger, metrics *observability.Metrics, retryClock clockwork.Clock) *Coordinator {
	if retryClock == nil {
		retryClock = clockwork.NewRealClock()
	}
	return &Coordinator{
		cache:      c,
		transport:  transport,
		logger:     logger,
		metrics:    metrics,
		retryClock: retryClock,
		sources:    make(map[string]registration),
	}
}

// Register adds a source and the normalizer for its payloads. Registering
// the same key again replaces the previous registration.
func (c *Coordinator) Register(src domain.Source, n normalize.Normalizer) error {
	if src.Key == "" {
		return errors.New("register source: empty key")
	}
	if n == nil {
		return fmt.Errorf("register source %s: nil normalizer", src.Key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[src.Key] = registration{src: src, normalizer: n}
	return nil
}

// OnUpdate adds a hook for changed records.
func (c *Coordinator) OnUpdate(h UpdateHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// Source returns the registered descriptor for key.
func (c *Coordinator) Source(key string) (domain.Source, bool) {
	reg, ok := c.lookup(key)
	return reg.src, ok
}

// Sources lists registered descriptors ordered by key.
func (c *Coordinator) Sources() []domain.Source {
	c.mu.RLock()
	out := make([]domain.Source, 0, len(c.sources))
	for _, reg := range c.sources {
		out = append(out, reg.src)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (c *Coordinator) lookup(key string) (registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.sources[key]
	return reg, ok
}

// Get returns the record for key and params.
//
// A fresh cached record is returned without network I/O. Otherwise one
// fetch per cache key is in flight at a time and concurrent callers share
// its result. If the fetch fails, or ctx ends while waiting for it, a
// cached record of any age is returned as Stale; with nothing cached the
// outcome is Failure.
func (c *Coordinator) Get(ctx context.Context, key string, params map[string]string) domain.Outcome {
	reg, ok := c.lookup(key)
	if !ok {
		return domain.Failure(domain.NewFetchError(key, 0, fmt.Errorf("%w: %q", domain.ErrUnknownSource, key)))
	}

	ck := domain.CacheKey(key, params)
	entry, freshness := c.cache.Lookup(ck, reg.src.TTL)
	c.metrics.CacheLookups.WithLabelValues(key, lookupResult(freshness)).Inc()
	if freshness == cache.Fresh {
		c.metrics.FetchOutcomes.WithLabelValues(key, string(domain.StatusFresh)).Inc()
		return domain.Fresh(entry.Payload, entry.FetchedAt)
	}

	ch := c.group.DoChan(ck, func() (any, error) {
		fctx, cancel := detach(ctx)
		defer cancel()
		return c.fetch(fctx, reg, ck, params)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.SharedFetches.WithLabelValues(key).Inc()
		}
		if res.Err == nil {
			f := res.Val.(fetched)
			c.metrics.FetchOutcomes.WithLabelValues(key, string(domain.StatusFresh)).Inc()
			return domain.Fresh(f.record, f.fetchedAt)
		}
		var fe *domain.FetchError
		if !errors.As(res.Err, &fe) {
			fe = domain.NewFetchError(key, 0, res.Err)
		}
		return c.fallback(ck, key, fe)
	case <-ctx.Done():
		return c.fallback(ck, key, domain.NewFetchError(key, 0, ctx.Err()))
	}
}

// detach keeps the values and deadline of ctx but not its cancellation, so
// a waiter that gives up does not abort the fetch other waiters depend on.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(detached, deadline)
	}
	return context.WithCancel(detached)
}

func (c *Coordinator) fallback(ck, key string, fe *domain.FetchError) domain.Outcome {
	if entry, ok := c.cache.Get(ck); ok {
		age := entry.Age(c.cache.Now())
		c.logger.Warn("serving stale record",
			"source", key,
			"key", ck,
			"age", age,
			"error", fe,
		)
		c.metrics.FetchOutcomes.WithLabelValues(key, string(domain.StatusStale)).Inc()
		return domain.Stale(entry.Payload, entry.FetchedAt, age)
	}
	c.metrics.FetchOutcomes.WithLabelValues(key, string(domain.StatusFailure)).Inc()
	return domain.Failure(fe)
}

func (c *Coordinator) fetch(ctx context.Context, reg registration, ck string, params map[string]string) (fetched, error) {
	src := reg.src
	log := c.logger.With("source", src.Key, "key", ck, "fetch_id", uuid.NewString())

	policy := retry.Policy{MaxAttempts: src.MaxRetries, BaseDelay: src.BaseDelay, Clock: c.retryClock}
	var (
		record     any
		lastStatus int
	)
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		rec, status, err := c.attempt(ctx, reg, params)
		if status != 0 {
			lastStatus = status
		}
		if err != nil {
			return err
		}
		record = rec
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		c.metrics.RetryAttempts.WithLabelValues(src.Key).Inc()
		log.Warn("attempt failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	})
	if err != nil {
		fe := domain.NewFetchError(src.Key, attempts, err)
		if lastStatus != 0 {
			fe.LastStatus = lastStatus
		}
		log.Error("fetch failed", "attempts", attempts, "status", fe.LastStatus, "error", err)
		return fetched{}, fe
	}

	now := c.cache.Now()
	if !c.cache.Put(ck, record, now) {
		// A newer fetch for the same key already landed.
		if entry, ok := c.cache.Get(ck); ok {
			return fetched{record: entry.Payload, fetchedAt: entry.FetchedAt}, nil
		}
	}
	log.Info("fetched", "attempts", attempts)
	c.announce(src.Key, ck, record, now, log)
	return fetched{record: record, fetchedAt: now}, nil
}

// attempt runs transport, status check, decode and normalization once. The
// returned status is the HTTP status seen, or 0 when no response arrived.
func (c *Coordinator) attempt(ctx context.Context, reg registration, params map[string]string) (any, int, error) {
	src := reg.src
	resp, err := c.transport.Do(ctx, src, params)
	if err != nil {
		return nil, 0, err
	}
	if resp.Status < http.StatusOK || resp.Status >= http.StatusMultipleChoices {
		return nil, resp.Status, &domain.HTTPStatusError{Status: resp.Status, Body: truncate(resp.Body)}
	}

	raw, err := normalize.Decode(src.Format, resp.ContentType, resp.Body)
	if err == nil {
		var rec any
		rec, err = reg.normalizer.Normalize(raw)
		if err == nil {
			return rec, resp.Status, nil
		}
	}
	var ne *domain.NormalizationError
	if errors.As(err, &ne) {
		c.metrics.NormalizationErrors.WithLabelValues(src.Key, string(ne.Kind)).Inc()
	}
	return nil, resp.Status, err
}

func (c *Coordinator) announce(sourceKey, ck string, record any, fetchedAt time.Time, log *slog.Logger) {
	digest, err := domain.Digest(record)
	if err != nil {
		log.Warn("digest record", "error", err)
		return
	}
	if prev, loaded := c.digests.Swap(ck, digest); loaded && prev.(string) == digest {
		return
	}

	c.mu.RLock()
	hooks := c.hooks
	c.mu.RUnlock()
	if len(hooks) == 0 {
		return
	}
	u := domain.Update{SourceKey: sourceKey, CacheKey: ck, Digest: digest, FetchedAt: fetchedAt, Record: record}
	for _, h := range hooks {
		h(u)
	}
}

func lookupResult(f cache.Freshness) string {
	switch f {
	case cache.Fresh:
		return "hit"
	case cache.Stale:
		return "stale"
	default:
		return "miss"
	}
}

func truncate(body []byte) string {
	if len(body) > maxErrorBody {
		return string(body[:maxErrorBody]) + "..."
	}
	return string(body)
}
