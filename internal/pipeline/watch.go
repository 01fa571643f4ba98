package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/fetch"
)

// DefaultMaxPending bounds the updates buffered between extractions.
const DefaultMaxPending = 1000

// Coordinator is the part of fetch.Coordinator the watcher drives.
type Coordinator interface {
	Get(ctx context.Context, key string, params map[string]string) domain.Outcome
	Source(key string) (domain.Source, bool)
	OnUpdate(h fetch.UpdateHook)
}

// Watcher polls watched sources on an interval and collects the updates the
// coordinator announces, whether a poll or a consumer request triggered the
// fetch. It implements BatchExtractor.
type Watcher struct {
	coord    Coordinator
	keys     []string
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger

	mu         sync.Mutex
	pending    []domain.Update
	maxPending int
	seen       map[string]bool
	nextPoll   time.Time
	signal     chan struct{}
}

// NewWatcher creates a Watcher and subscribes it to coordinator updates.
// Every key must name a registered source.
func NewWatcher(coord Coordinator, keys []string, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) (*Watcher, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if len(keys) > 0 && interval <= 0 {
		return nil, fmt.Errorf("watch interval must be positive, got %s", interval)
	}
	for _, k := range keys {
		if _, ok := coord.Source(k); !ok {
			return nil, fmt.Errorf("watch source %q: %w", k, domain.ErrUnknownSource)
		}
	}
	w := &Watcher{
		coord:      coord,
		keys:       keys,
		interval:   interval,
		clock:      clock,
		logger:     logger,
		maxPending: DefaultMaxPending,
		seen:       make(map[string]bool, len(keys)),
		signal:     make(chan struct{}, 1),
	}
	coord.OnUpdate(w.enqueue)
	return w, nil
}

func (w *Watcher) enqueue(u domain.Update) {
	w.mu.Lock()
	if len(w.pending) >= w.maxPending {
		w.mu.Unlock()
		w.logger.Warn("update buffer full, dropping update", "source", u.SourceKey, "key", u.CacheKey)
		return
	}
	w.pending = append(w.pending, u)
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// ExtractBatch polls the watched sources when the interval has elapsed and
// returns buffered updates. With nothing buffered it waits for the next poll
// or for an update triggered elsewhere.
func (w *Watcher) ExtractBatch(ctx context.Context, batchSize int) ([]domain.Update, error) {
	for {
		if w.pollDue() {
			w.Poll(ctx)
		}
		if batch := w.take(batchSize); len(batch) > 0 {
			return batch, nil
		}

		// Without watched sources only consumer fetches produce updates.
		var next <-chan time.Time
		if len(w.keys) > 0 {
			w.mu.Lock()
			wait := w.nextPoll.Sub(w.clock.Now())
			w.mu.Unlock()
			next = w.clock.After(wait)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.signal:
		case <-next:
		}
	}
}

func (w *Watcher) pollDue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return !w.clock.Now().Before(w.nextPoll)
}

// Poll refreshes every watched source once.
func (w *Watcher) Poll(ctx context.Context) {
	w.mu.Lock()
	w.nextPoll = w.clock.Now().Add(w.interval)
	w.mu.Unlock()

	for _, k := range w.keys {
		if ctx.Err() != nil {
			return
		}
		out := w.coord.Get(ctx, k, nil)
		if !out.OK() {
			w.logger.Warn("watched source unavailable", "source", k, "error", out.Err)
			continue
		}
		if out.Status == domain.StatusStale {
			w.logger.Info("watched source stale", "source", k, "age", out.Age)
		}
		w.mu.Lock()
		w.seen[k] = true
		w.mu.Unlock()
	}
}

func (w *Watcher) take(n int) []domain.Update {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	if n <= 0 || n > len(w.pending) {
		n = len(w.pending)
	}
	batch := make([]domain.Update, n)
	copy(batch, w.pending)
	w.pending = w.pending[n:]
	if len(w.pending) == 0 {
		select {
		case <-w.signal:
		default:
		}
	}
	return batch
}

// CheckReadiness returns nil once every watched source has produced a
// record, fresh or stale.
func (w *Watcher) CheckReadiness(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var waiting []string
	for _, k := range w.keys {
		if !w.seen[k] {
			waiting = append(waiting, k)
		}
	}
	if len(waiting) == 0 {
		return nil
	}
	sort.Strings(waiting)
	return fmt.Errorf("waiting for first record from %s", strings.Join(waiting, ", "))
}
