package middleware

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vidmirror/backend/internal/config"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter controls how frequently a caller may perform an action.
type RateLimiter interface {
	Allow(key string) bool
}

// keyedRateLimiter tracks request rates per key, such as "download:<ip>",
// and forgets keys that stay idle longer than ttl.
type keyedRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewRateLimiter builds a per-key limiter from the configured request budget.
func NewRateLimiter(cfg config.RateLimitConfig) RateLimiter {
	ttl := 5 * cfg.Window
	if ttl < 5*time.Minute {
		ttl = 5 * time.Minute
	}
	return newKeyedRateLimiter(cfg.Requests, cfg.Window, cfg.Burst, ttl)
}

func newKeyedRateLimiter(requests int, window time.Duration, burst int, ttl time.Duration) *keyedRateLimiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &keyedRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (l *keyedRateLimiter) Allow(key string) bool {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	now := l.now()
	b := l.bucketLocked(key, now)
	l.gcLocked(now)
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

func (l *keyedRateLimiter) bucketLocked(key string, now time.Time) *bucket {
	if b, ok := l.buckets[key]; ok {
		b.lastSeen = now
		return b
	}

	b := &bucket{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.buckets[key] = b
	return b
}

func (l *keyedRateLimiter) gcLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// len reports the number of tracked keys.
func (l *keyedRateLimiter) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
