// Package ratelimit provides per-resource dispatch throttling for the Queue
// Orchestrator (spec §4.11's processing loop), backed by
// golang.org/x/time/rate token buckets the same way the teacher's HTTP-layer
// rate limiter used them for inbound request shaping.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Config tunes the token bucket shared by every resource's limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 100
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond * 2)
	}
	return c
}

// Limiters owns one token-bucket limiter per resource, created lazily
// (mirrors resilience.Registry's per-resource breaker lifecycle).
type Limiters struct {
	mu       sync.Mutex
	cfg      Config
	limiters map[string]*rate.Limiter
}

// NewLimiters creates a registry sharing one Config template across resources.
func NewLimiters(cfg Config) *Limiters {
	return &Limiters{cfg: cfg.withDefaults(), limiters: make(map[string]*rate.Limiter)}
}

// For returns (creating if needed) the token bucket for a resource.
func (l *Limiters) For(resource string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[resource]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst)
	l.limiters[resource] = lim
	return lim
}

// Wait blocks until resource's bucket has a token available or ctx is done,
// throttling one queue dispatch tick (spec's domain-stack wiring for
// golang.org/x/time/rate: "token-bucket throttling of dispatch ticks per
// resource").
func (l *Limiters) Wait(ctx context.Context, resource string) error {
	return l.For(resource).Wait(ctx)
}

// Allow reports whether resource's bucket currently has a token available,
// without waiting or consuming it on a miss.
func (l *Limiters) Allow(resource string) bool {
	return l.For(resource).Allow()
}
