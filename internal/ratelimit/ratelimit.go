// Package ratelimit implements a per-subject token bucket with lazy refill,
// grounded on the teacher's atomic-counter-plus-mutex-guarded-map concurrency
// style (internal/session/client.go, internal/engine/random.go) rather than
// golang.org/x/time/rate, which doesn't expose the burst/remaining/reset-at
// snapshot this package reports.
package ratelimit

import (
	"sync"
	"time"

	"github.com/biomeexchange/core/internal/clock"
)

// Decision reports the outcome of a Check call.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// bucket is a single subject's token bucket. tokens is a float64 so
// fractional refill rates accumulate between whole tokens.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   int
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *bucket) refillLocked(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.lastRefill = now
}

func (b *bucket) take(now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked(now)

	if b.tokens < 1 {
		missing := 1 - b.tokens
		var wait time.Duration
		if b.refillRate > 0 {
			wait = time.Duration(missing/b.refillRate*1000) * time.Millisecond
		}
		return Decision{Allowed: false, Remaining: 0, ResetAt: now.Add(wait)}
	}

	b.tokens--
	remaining := int(b.tokens)
	var wait time.Duration
	if b.refillRate > 0 {
		needed := float64(b.capacity) - b.tokens
		wait = time.Duration(needed/b.refillRate*1000) * time.Millisecond
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: now.Add(wait)}
}

// BucketSpec names a bucket kind's capacity and refill rate.
type BucketSpec struct {
	Capacity   int
	RefillRate float64
}

// Limiter tracks one token bucket per (kind, subject) pair. Subjects are
// typically user ids; kind is an operation class such as "orders.place".
type Limiter struct {
	clk   clock.Clock
	specs map[string]BucketSpec

	mu      sync.Mutex
	buckets map[string]*bucket
}

// New builds a Limiter with the given bucket specs, keyed by kind.
func New(clk clock.Clock, specs map[string]BucketSpec) *Limiter {
	return &Limiter{
		clk:     clk,
		specs:   specs,
		buckets: make(map[string]*bucket),
	}
}

// Check consumes one token for (kind, subject) if available, creating the
// bucket on first use. Unknown kinds are always allowed (fail-open for
// operations the caller didn't configure a bucket for).
func (l *Limiter) Check(kind, subject string) Decision {
	spec, ok := l.specs[kind]
	if !ok {
		return Decision{Allowed: true, Remaining: -1}
	}

	key := kind + ":" + subject
	now := l.clk.Now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{
			tokens:     float64(spec.Capacity),
			capacity:   spec.Capacity,
			refillRate: spec.RefillRate,
			lastRefill: now,
		}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.take(now)
}

// Capacity reports the configured burst size for kind, so callers can
// surface X-RateLimit-Limit alongside Check's per-request Decision.
func (l *Limiter) Capacity(kind string) (int, bool) {
	spec, ok := l.specs[kind]
	return spec.Capacity, ok
}

// GC drops buckets untouched for longer than maxIdle whose lazily refilled
// balance would be full (i.e. idle), bounding memory for subjects that stop
// making requests. Intended to run
// from a cron-scheduled hourly sweep rather than a tight loop.
func (l *Limiter) GC(maxIdle time.Duration) int {
	now := l.clk.Now()
	removed := 0

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		b.mu.Lock()
		elapsed := now.Sub(b.lastRefill)
		projected := b.tokens + elapsed.Seconds()*b.refillRate
		idle := elapsed > maxIdle && projected >= float64(b.capacity)
		b.mu.Unlock()
		if idle {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked buckets, primarily for tests and metrics.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
