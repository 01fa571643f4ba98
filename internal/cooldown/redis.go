package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/opendata-relay/internal/domain"
	"github.com/couchcryptid/opendata-relay/internal/observability"
)

const redisKeyPrefix = "opendata-relay:cooldown:"

// Redis shares cooldown windows between relay replicas. A window is a key
// set with NX and a PX expiry; its remaining PTTL is the retry-after.
type Redis struct {
	client   *redis.Client
	cooldown time.Duration
	metrics  *observability.Metrics
}

// NewRedis creates a limiter backed by client.
func NewRedis(client *redis.Client, cooldown time.Duration, metrics *observability.Metrics) *Redis {
	return &Redis{client: client, cooldown: cooldown, metrics: metrics}
}

// NewRedisClient connects to addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func (r *Redis) Allow(ctx context.Context, userID string) error {
	key := redisKeyPrefix + userID
	ok, err := r.client.SetNX(ctx, key, 1, r.cooldown).Result()
	if err != nil {
		return fmt.Errorf("cooldown set %s: %w", userID, err)
	}
	if ok {
		return nil
	}

	ttl, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("cooldown pttl %s: %w", userID, err)
	}
	if ttl <= 0 {
		// Expired between the two commands, or the key lost its expiry.
		// Restart the window so the key cannot outlive it.
		if err := r.client.PExpire(ctx, key, r.cooldown).Err(); err != nil {
			return fmt.Errorf("cooldown pexpire %s: %w", userID, err)
		}
		ttl = r.cooldown
	}
	r.metrics.CooldownRejections.Inc()
	return &domain.RateLimitedError{UserID: userID, RetryAfter: ttl}
}
