// Package ratelimit paces requests per source with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS applies to sources without an override; <= 0 disables limiting.
	DefaultRPS   float64
	DefaultBurst int
	// PerSource overrides DefaultRPS.
	PerSource map[ingest.Source]float64
}

// Limiter manages per-source rate limits within one process.
type Limiter struct {
	mu       sync.Mutex
	limiters map[ingest.Source]*rate.Limiter
	cfg      Config
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	if cfg.DefaultBurst <= 0 {
		cfg.DefaultBurst = 1
	}
	return &Limiter{
		limiters: make(map[ingest.Source]*rate.Limiter),
		cfg:      cfg,
	}
}

// Wait blocks until source may issue another request.
func (l *Limiter) Wait(ctx context.Context, source ingest.Source) error {
	limiter := l.limiterFor(source)
	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(string(source), waited)
	}
	return nil
}

func (l *Limiter) limiterFor(source ingest.Source) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(l.limitFor(source), l.cfg.DefaultBurst)
		l.limiters[source] = limiter
	}
	return limiter
}

func (l *Limiter) limitFor(source ingest.Source) rate.Limit {
	rps := l.cfg.DefaultRPS
	if override, ok := l.cfg.PerSource[source]; ok {
		rps = override
	}
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}
