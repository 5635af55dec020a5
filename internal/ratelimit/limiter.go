package ratelimit

import (
	"sync"
	"time"
)

type Category string

const (
	CategoryAPI        Category = "api"
	CategoryTrading    Category = "trading"
	CategoryLogin      Category = "login"
	CategoryCredential Category = "credential"
)

type Limit struct {
	Capacity     int
	RefillPeriod time.Duration
}

func DefaultLimits() map[Category]Limit {
	return map[Category]Limit{
		CategoryAPI:        {Capacity: 60, RefillPeriod: 1 * time.Minute},
		CategoryTrading:    {Capacity: 10, RefillPeriod: 1 * time.Minute},
		CategoryLogin:      {Capacity: 5, RefillPeriod: 15 * time.Minute},
		CategoryCredential: {Capacity: 5, RefillPeriod: 5 * time.Minute},
	}
}

type bucket struct {
	limit      Limit
	tokens     float64
	lastRefill time.Time
}

// Limiter admits or rejects operations with a token bucket per
// (category, identity). Buckets are created on first use, refilled
// lazily from elapsed time on each consume attempt and live for the
// process lifetime. Never blocks.
type Limiter struct {
	mu      sync.Mutex
	limits  map[Category]Limit
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter merges overrides over the default limit table. Unknown
// categories in overrides are kept as-is so operators can add custom
// ones from config.
func NewLimiter(overrides map[Category]Limit) *Limiter {
	limits := DefaultLimits()
	for category, limit := range overrides {
		if limit.Capacity > 0 && limit.RefillPeriod > 0 {
			limits[category] = limit
		}
	}

	return &Limiter{
		limits:  limits,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// TryConsume atomically checks and decrements n tokens for the
// (category, identity) bucket. Returns false without side effect when
// the budget is exhausted or the category is unknown.
func (l *Limiter) TryConsume(category Category, identity string, n int) bool {
	if n <= 0 {
		n = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[category]
	if !ok {
		return false
	}

	key := bucketKey(category, identity)
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			limit:      limit,
			tokens:     float64(limit.Capacity),
			lastRefill: l.now(),
		}
		l.buckets[key] = b
	}

	l.refill(b)

	if b.tokens < float64(n) {
		return false
	}

	b.tokens -= float64(n)

	return true
}

// AvailableTokens reports the current token count for an existing
// bucket; zero for buckets that were never touched.
func (l *Limiter) AvailableTokens(category Category, identity string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[bucketKey(category, identity)]
	if !ok {
		return 0
	}

	l.refill(b)

	return int(b.tokens)
}

// Reset drops one bucket so the next consume starts from full capacity.
func (l *Limiter) Reset(category Category, identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, bucketKey(category, identity))
}

// ClearAll drops every bucket.
func (l *Limiter) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buckets = make(map[string]*bucket)
}

// refill adds tokens proportional to the time elapsed since the last
// refill, capped at capacity. Caller holds l.mu.
func (l *Limiter) refill(b *bucket) {
	now := l.now()
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}

	earned := elapsed.Seconds() / b.limit.RefillPeriod.Seconds() * float64(b.limit.Capacity)
	b.tokens += earned
	if b.tokens > float64(b.limit.Capacity) {
		b.tokens = float64(b.limit.Capacity)
	}
	b.lastRefill = now
}

func bucketKey(category Category, identity string) string {
	return string(category) + ":" + identity
}
