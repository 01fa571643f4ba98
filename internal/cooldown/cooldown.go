// Package cooldown throttles how often a single consumer may trigger
// fetches. It protects upstream quotas from one noisy user without
// limiting anyone else.
package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/opendata-relay/internal/observability"
)

// Backend names accepted by New.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Limiter decides whether userID may proceed now. A throttled call returns
// *domain.RateLimitedError carrying the remaining wait.
type Limiter interface {
	Allow(ctx context.Context, userID string) error
}

// Options configures New.
type Options struct {
	Backend  string
	Cooldown time.Duration
	MaxUsers int // memory backend only
	Clock    clockwork.Clock
	Redis    *redis.Client
}

// New builds the limiter selected by opts.Backend. A zero cooldown disables
// throttling.
func New(opts Options, metrics *observability.Metrics) (Limiter, error) {
	if opts.Cooldown <= 0 {
		return Disabled{}, nil
	}
	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(opts.Cooldown, opts.MaxUsers, opts.Clock, metrics), nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("cooldown backend %q needs a redis client", opts.Backend)
		}
		return NewRedis(opts.Redis, opts.Cooldown, metrics), nil
	default:
		return nil, fmt.Errorf("unknown cooldown backend %q", opts.Backend)
	}
}

// Disabled lets every call through.
type Disabled struct{}

func (Disabled) Allow(context.Context, string) error { return nil }
