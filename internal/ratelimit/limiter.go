package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"decklens/internal/config"
	"decklens/internal/logging"
	"decklens/internal/services"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Err returns a *services.RateLimitedError for rejected decisions and nil
// otherwise.
func (d Decision) Err(key string) error {
	if d.Allowed {
		return nil
	}
	return &services.RateLimitedError{Key: key, RetryAfter: d.RetryAfter}
}

type bucket struct {
	mu       sync.Mutex
	log      []time.Time
	lastSeen time.Time
	evicted  bool
}

// Limiter admits at most limit requests per key within any window-long span.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time
	logger *slog.Logger
	onDeny func(key string)

	mu      sync.RWMutex
	buckets map[string]*bucket
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger attaches a logger for rejections.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithDenyHook registers a callback invoked for every rejection.
func WithDenyHook(fn func(key string)) Option {
	return func(l *Limiter) { l.onDeny = fn }
}

// New builds a limiter admitting limit requests per window per key.
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	l := &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.NewComponentLogger(l.logger, "ratelimit")
	return l
}

// FromConfig builds a limiter from the [rate_limit] section.
func FromConfig(cfg config.RateLimit, opts ...Option) *Limiter {
	return New(cfg.Limit, cfg.Window(), opts...)
}

func (l *Limiter) bucketFor(key string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return b
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.buckets[key]; ok {
		return b
	}
	b = &bucket{}
	l.buckets[key] = b
	return b
}

// Allow records one request for key when the window has room.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()
	b := l.bucketFor(key)
	b.mu.Lock()
	for b.evicted {
		b.mu.Unlock()
		b = l.bucketFor(key)
		b.mu.Lock()
	}
	b.trim(now.Add(-l.window))
	b.lastSeen = now
	d := Decision{Limit: l.limit}
	if len(b.log) < l.limit {
		b.log = append(b.log, now)
		d.Allowed = true
		d.Remaining = l.limit - len(b.log)
	} else {
		d.RetryAfter = b.log[0].Add(l.window).Sub(now)
	}
	b.mu.Unlock()

	if !d.Allowed {
		l.logger.Debug("rate limit rejected request",
			logging.String("key", key),
			logging.Duration("retry_after", d.RetryAfter),
			logging.String(logging.FieldEventType, "rate_limited"),
		)
		if l.onDeny != nil {
			l.onDeny(key)
		}
	}
	return d
}

// Wait blocks until key is admitted or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		d := l.Allow(key)
		if d.Allowed {
			return nil
		}
		timer := time.NewTimer(d.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// trim drops timestamps at or before cutoff.
func (b *bucket) trim(cutoff time.Time) {
	drop := 0
	for drop < len(b.log) && !b.log[drop].After(cutoff) {
		drop++
	}
	if drop > 0 {
		b.log = append(b.log[:0], b.log[drop:]...)
	}
}

// Evict removes buckets idle for longer than the window and returns how many
// were dropped.
func (l *Limiter) Evict() int {
	cutoff := l.now().Add(-l.window)
	l.mu.Lock()
	defer l.mu.Unlock()
	evicted := 0
	for key, b := range l.buckets {
		b.mu.Lock()
		if !b.lastSeen.After(cutoff) {
			b.evicted = true
			delete(l.buckets, key)
			evicted++
		}
		b.mu.Unlock()
	}
	return evicted
}

// Run evicts idle buckets every interval until ctx ends.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = l.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Evict()
		}
	}
}

// Count returns the number of tracked keys.
func (l *Limiter) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
