// Package cache holds the last normalized record of every source key.
package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

// Freshness classifies a lookup result.
type Freshness int

const (
	Absent Freshness = iota
	Fresh
	Stale
)

func (f Freshness) String() string {
	switch f {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	default:
		return "absent"
	}
}

// Entry is an immutable snapshot of a cached record. Entries are replaced
// whole, never modified in place.
type Entry struct {
	Key       string
	Payload   any
	FetchedAt time.Time
	// ExpiresAt is a hard expiry taken from payloads implementing
	// domain.Expirer. Zero means the TTL alone decides freshness.
	ExpiresAt time.Time
}

// Age returns how long ago the entry was fetched.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// IsStale reports whether the entry is older than ttl or past its hard expiry.
func (e Entry) IsStale(now time.Time, ttl time.Duration) bool {
	if !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt) {
		return true
	}
	return e.Age(now) > ttl
}

// slot guards a single key. Readers load the pointer without locking.
type slot struct {
	entry atomic.Pointer[Entry]
}

// Cache is a TTL cache keyed by source key. Keys never contend with each
// other: each key has its own slot and entries are swapped atomically.
// Nothing is evicted; staleness is computed on read.
type Cache struct {
	clock clockwork.Clock
	slots sync.Map // string -> *slot
}

// New creates a Cache. A nil clock uses real time.
func New(clock clockwork.Clock) *Cache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{clock: clock}
}

// Get returns the entry stored under key.
func (c *Cache) Get(key string) (Entry, bool) {
	v, ok := c.slots.Load(key)
	if !ok {
		return Entry{}, false
	}
	e := v.(*slot).entry.Load()
	if e == nil {
		return Entry{}, false
	}
	return *e, true
}

// Put stores payload under key. A write whose fetchedAt is older than the
// stored entry's is dropped, so the entry always reflects the most recently
// completed fetch. Put reports whether the entry was replaced.
func (c *Cache) Put(key string, payload any, fetchedAt time.Time) bool {
	next := &Entry{Key: key, Payload: payload, FetchedAt: fetchedAt}
	if exp, ok := payload.(domain.Expirer); ok {
		next.ExpiresAt = exp.ExpiresAt()
	}

	v, _ := c.slots.LoadOrStore(key, &slot{})
	s := v.(*slot)
	for {
		cur := s.entry.Load()
		if cur != nil && fetchedAt.Before(cur.FetchedAt) {
			return false
		}
		if s.entry.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// IsFresh reports whether entry is within ttl at the cache's current time.
func (c *Cache) IsFresh(entry Entry, ttl time.Duration) bool {
	return !entry.IsStale(c.clock.Now(), ttl)
}

// Lookup returns the entry for key together with its freshness under ttl.
func (c *Cache) Lookup(key string, ttl time.Duration) (Entry, Freshness) {
	e, ok := c.Get(key)
	if !ok {
		return Entry{}, Absent
	}
	if c.IsFresh(e, ttl) {
		return e, Fresh
	}
	return e, Stale
}

// Now exposes the cache clock so callers stamp entries consistently.
func (c *Cache) Now() time.Time {
	return c.clock.Now()
}

// Len returns the number of populated keys.
func (c *Cache) Len() int {
	n := 0
	c.slots.Range(func(_, v any) bool {
		if v.(*slot).entry.Load() != nil {
			n++
		}
		return true
	})
	return n
}
