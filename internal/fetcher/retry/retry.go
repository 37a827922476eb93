// Package retry wraps a crawler.Fetcher with jittered exponential backoff for
// page-level failures.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/metrics"
)

// Policy decides whether and when to retry.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns three attempts with a 250ms base delay capped at 5s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// ShouldRetry reports whether a failed attempt may be retried. attempt is
// 1-based.
func (p Policy) ShouldRetry(resp crawler.FetchResponse, err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if err != nil {
		if crawler.IsSessionFatal(err) ||
			errors.Is(err, context.Canceled) ||
			errors.Is(err, context.DeadlineExceeded) {
			return false
		}
		return errors.Is(err, crawler.ErrPageFetch)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
}

// Backoff returns the wait before attempt+1: half of the capped exponential
// delay plus up to the same amount of jitter.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Fetcher retries page-level failures of an inner fetcher.
type Fetcher struct {
	inner  crawler.Fetcher
	policy Policy
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// Wrap decorates inner. A policy with MaxAttempts <= 1 returns inner unchanged.
func Wrap(inner crawler.Fetcher, policy Policy, logger *zap.Logger) crawler.Fetcher {
	if policy.MaxAttempts <= 1 {
		return inner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{inner: inner, policy: policy, logger: logger.Named("retry"), sleep: sleepCtx}
}

// Fetch implements crawler.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.inner.Fetch(ctx, request)
		if !f.policy.ShouldRetry(resp, err, attempt) {
			return resp, err
		}
		wait := f.policy.Backoff(attempt)
		f.logger.Warn("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Int("status", resp.StatusCode),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		metrics.ObserveFetchRetry(hostOf(request.URL))
		if err := f.sleep(ctx, wait); err != nil {
			return crawler.FetchResponse{}, fmt.Errorf("retry backoff: %w", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
