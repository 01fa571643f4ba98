package cooldown

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/observability"
)

// DefaultMaxUsers bounds the number of users tracked in memory.
const DefaultMaxUsers = 10000

// Memory keeps one token bucket per user in a bounded LRU. A user evicted
// from the LRU starts over with a full bucket.
type Memory struct {
	limit   rate.Limit
	clock   clockwork.Clock
	users   *lruCache[*rate.Limiter]
	metrics *observability.Metrics
}

// NewMemory creates an in-process limiter allowing one call per cooldown.
func NewMemory(cooldown time.Duration, maxUsers int, clock clockwork.Clock, metrics *observability.Metrics) *Memory {
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		limit:   rate.Every(cooldown),
		clock:   clock,
		users:   newLRUCache[*rate.Limiter](maxUsers),
		metrics: metrics,
	}
}

func (m *Memory) Allow(_ context.Context, userID string) error {
	limiter := m.users.getOrPut(userID, func() *rate.Limiter {
		return rate.NewLimiter(m.limit, 1)
	})

	now := m.clock.Now()
	r := limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		m.metrics.CooldownRejections.Inc()
		return &domain.RateLimitedError{UserID: userID, RetryAfter: delay}
	}
	return nil
}
