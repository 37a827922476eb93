// Package ratelimit paces fetches per host with a token bucket plus an
// optional randomized politeness delay.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-warehouse/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// RPS is the sustained requests per second per host. Zero disables the bucket.
	RPS   float64
	Burst int
	// MinDelay and MaxDelay bound a random pause added after each token.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	minDelay time.Duration
	maxDelay time.Duration
	jitter   func(n int64) int64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.MinDelay {
		maxDelay = cfg.MinDelay
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		minDelay: cfg.MinDelay,
		maxDelay: maxDelay,
		jitter:   rand.Int64N,
	}
}

// Wait blocks until a token for the host of rawURL is available and the
// politeness delay has elapsed.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	start := time.Now()
	if err := l.limiterFor(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := l.delay(); delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("politeness delay: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitWait(host, waited)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}

func (l *Limiter) delay() time.Duration {
	spread := l.maxDelay - l.minDelay
	if spread <= 0 {
		return l.minDelay
	}
	return l.minDelay + time.Duration(l.jitter(int64(spread)+1))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
