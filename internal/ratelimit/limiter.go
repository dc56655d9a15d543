package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Category names one admission bucket. Each upstream call category is
// limited independently; a denial in one category never affects another.
type Category string

const (
	CategoryRating     Category = "rating"
	CategoryUpload     Category = "upload"
	CategoryGeneration Category = "generation"
)

// BucketConfig describes one token bucket. RefillRate is tokens per second;
// refill is computed lazily on access rather than by a background timer.
type BucketConfig struct {
	Capacity   float64
	RefillRate float64
}

type bucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	tokens   float64
	last     time.Time
}

// Limiter holds one token bucket per category. The bucket map is fixed at
// construction, so concurrent callers of different categories never share a
// lock.
type Limiter struct {
	buckets map[Category]*bucket
	now     func() time.Time
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock injects the time source, letting tests advance time without
// sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter builds a limiter with one full bucket per configured category.
func NewLimiter(configs map[Category]BucketConfig, opts ...Option) *Limiter {
	l := &Limiter{
		buckets: make(map[Category]*bucket, len(configs)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	start := l.now()
	for category, cfg := range configs {
		capacity := cfg.Capacity
		if capacity <= 0 {
			capacity = 1
		}
		rate := cfg.RefillRate
		if rate <= 0 {
			rate = capacity / 3600 // default to capacity per hour
		}
		l.buckets[category] = &bucket{
			capacity: capacity,
			rate:     rate,
			tokens:   capacity,
			last:     start,
		}
	}
	return l
}

// TryAcquire takes one token from the category's bucket. It never blocks;
// false means the caller should fail with a rate-limited error. Unknown
// categories are admitted so that a missing config fails open rather than
// silently disabling a workflow.
func (l *Limiter) TryAcquire(category Category) bool {
	b, ok := l.buckets[category]
	if !ok {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(l.now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RetryAfter estimates how long until the category has a token again.
// Returns zero when a token is already available or the category is
// unconfigured.
func (l *Limiter) RetryAfter(category Category) time.Duration {
	b, ok := l.buckets[category]
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(l.now())
	if b.tokens >= 1 {
		return 0
	}
	missing := 1 - b.tokens
	seconds := missing / b.rate
	return time.Duration(math.Ceil(seconds * float64(time.Second)))
}

// Tokens reports the current token count after lazy refill. Intended for
// tests and diagnostics.
func (l *Limiter) Tokens(category Category) float64 {
	b, ok := l.buckets[category]
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(l.now())
	return b.tokens
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now
	b.tokens += elapsed.Seconds() * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}
