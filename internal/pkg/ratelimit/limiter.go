// Package ratelimit implements a sliding-window-log limiter. The limiter
// fails open: when its store is slow or unreachable every request is
// admitted with DecisionDegraded.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/internal/pkg/metrics"
)

type Decision string

const (
	DecisionAllowed  Decision = "allowed"
	DecisionDenied   Decision = "denied"
	DecisionDegraded Decision = "degraded"
)

const defaultTimeout = 500 * time.Millisecond

// Window is what a store reports after recording (or refusing) one request.
type Window struct {
	Admitted bool
	// Count is the number of requests inside the window, including this one
	// when admitted.
	Count int
	// Oldest is the timestamp of the oldest surviving request.
	Oldest time.Time
}

// Store records requests for a key. Implementations must do the prune,
// count and conditional add atomically.
type Store interface {
	Record(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Window, error)
}

type Result struct {
	Decision  Decision  `json:"decision"`
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// RetryAfter is the time until the oldest request leaves the window.
func (r Result) RetryAfter(now time.Time) time.Duration {
	if r.Allowed || r.ResetAt.IsZero() {
		return 0
	}
	d := r.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

type Limiter struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store, timeout: defaultTimeout, now: time.Now}
}

// WithTimeout overrides the store round-trip budget.
func (l *Limiter) WithTimeout(d time.Duration) *Limiter {
	if d > 0 {
		l.timeout = d
	}
	return l
}

// Key builds the store key for a resource and subject (user id or client IP).
func Key(resource, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s", resource, subject)
}

// Consume records one request against key and decides whether it may
// proceed. It never returns an error.
func (l *Limiter) Consume(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := l.now()
	if limit <= 0 || window <= 0 {
		log.Errorf("[RateLimit] invalid limit %d/%s for %s, admitting request", limit, window, key)
		return Result{Decision: DecisionDegraded, Allowed: true, Limit: limit}
	}

	storeCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	w, err := l.store.Record(storeCtx, key, limit, window, now)
	if err != nil {
		log.Warnf("[RateLimit] store unavailable for %s, failing open: %v", key, err)
		metrics.RateLimitDecisions.WithLabelValues(string(DecisionDegraded)).Inc()
		return Result{Decision: DecisionDegraded, Allowed: true, Limit: limit, Remaining: limit - 1}
	}

	res := Result{
		Limit:     limit,
		Remaining: limit - w.Count,
		ResetAt:   w.Oldest.Add(window),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if w.Oldest.IsZero() {
		res.ResetAt = now.Add(window)
	}
	if w.Admitted {
		res.Decision = DecisionAllowed
		res.Allowed = true
	} else {
		res.Decision = DecisionDenied
	}
	metrics.RateLimitDecisions.WithLabelValues(string(res.Decision)).Inc()
	return res
}
