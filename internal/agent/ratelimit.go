package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/importscout/internal/metrics"
)

// RateLimitConfig bounds how often the wrapped agent is called.
type RateLimitConfig struct {
	PerMinute float64
	Burst     int
}

// RateLimited throttles calls to an Agent with a token bucket. Callers wait for
// a token or until ctx is done.
type RateLimited struct {
	next    Agent
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive rate disables throttling.
func NewRateLimited(next Agent, cfg RateLimitConfig) *RateLimited {
	limit := rate.Inf
	if cfg.PerMinute > 0 {
		limit = rate.Limit(cfg.PerMinute / 60)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Generate waits for a token and then delegates to the wrapped agent.
func (r *RateLimited) Generate(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return Response{}, fmt.Errorf("agent rate limit wait: %w", err)
	}
	metrics.ObserveAgentWait(time.Since(start))
	return r.next.Generate(ctx, req)
}
