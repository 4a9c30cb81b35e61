package worker

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Service names used as limiter keys
const (
	ServiceGraph  = "graph"
	ServiceVector = "vector"
	ServiceLLM    = "llm"
	ServiceEmbed  = "embed"
)

// Limiter throttles outbound calls per named service. Batch runs share one
// Limiter so concurrent workers cannot flood the graph, index or model server.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a new rate limiter. A non-positive rate disables throttling.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Wait blocks until the service may be called or ctx is done
func (l *Limiter) Wait(ctx context.Context, service string) error {
	if l == nil {
		return ctx.Err()
	}
	return l.getLimiter(service).Wait(ctx)
}

// Allow checks if a call is allowed without waiting
func (l *Limiter) Allow(service string) bool {
	if l == nil {
		return true
	}
	return l.getLimiter(service).Allow()
}

// getLimiter returns the rate limiter for a service
func (l *Limiter) getLimiter(service string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[service]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[service]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[service] = limiter

	return limiter
}

// SetServiceRate sets a custom rate limit for one service
func (l *Limiter) SetServiceRate(service string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.limiters[service] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
