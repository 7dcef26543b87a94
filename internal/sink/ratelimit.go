package sink

import (
	"context"
	"sync"
	"time"
)

// gmailOperation represents a Gmail API operation with its quota cost,
// mirroring the unit costs Google documents for the Gmail API.
type gmailOperation int

const (
	opMessagesImport gmailOperation = iota // 25 units
	opMessagesInsert                       // 25 units
	opLabelsList                           // 1 unit
	opLabelsCreate                         // 1 unit
	opProfile                              // 1 unit
)

func (o gmailOperation) cost() int {
	switch o {
	case opMessagesImport, opMessagesInsert:
		return 25
	default:
		return 1
	}
}

const (
	defaultCapacity   = 250
	defaultRefillRate = 250.0
	defaultQPS        = 5.0

	throttleRecoveryFactor = 0.5
	minWait                = 10 * time.Millisecond
)

// rateLimiter is a token-bucket limiter for sink API calls, adapted
// from the Gmail client's quota-aware limiter: a fixed per-user quota
// capacity refilled continuously, with adaptive throttling when the
// sink itself reports a quota or rate-limit error.
type rateLimiter struct {
	mu             sync.Mutex
	tokens         float64
	capacity       float64
	refillRate     float64
	baseRefillRate float64
	lastRefill     time.Time
	throttledUntil time.Time
}

func newRateLimiter(qps float64) *rateLimiter {
	if qps < 0.1 {
		qps = 0.1
	}
	scale := qps / defaultQPS
	if scale > 1.0 {
		scale = 1.0
	}
	refillRate := defaultRefillRate * scale
	return &rateLimiter{
		tokens:         defaultCapacity,
		capacity:       defaultCapacity,
		refillRate:     refillRate,
		baseRefillRate: refillRate,
		lastRefill:     time.Now(),
	}
}

func (r *rateLimiter) reserve(op gmailOperation) time.Duration {
	cost := float64(op.cost())

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Before(r.throttledUntil) {
		return r.throttledUntil.Sub(now)
	}
	r.refill(now)

	if r.tokens >= cost {
		r.tokens -= cost
		return 0
	}

	deficit := cost - r.tokens
	wait := time.Duration(deficit / r.refillRate * float64(time.Second))
	if wait < minWait {
		wait = minWait
	}
	return wait
}

// acquire blocks until tokens for op are available or ctx is done.
func (r *rateLimiter) acquire(ctx context.Context, op gmailOperation) error {
	for {
		wait := r.reserve(op)
		if wait == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *rateLimiter) refill(now time.Time) {
	if now.Before(r.throttledUntil) {
		r.lastRefill = now
		return
	}
	if r.refillRate < r.baseRefillRate && !r.throttledUntil.IsZero() {
		r.refillRate = r.baseRefillRate
	}
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now
	r.tokens += elapsed * r.refillRate
	if r.tokens > r.capacity {
		r.tokens = r.capacity
	}
}

// throttle backs off the bucket after a 429/403 quota response,
// draining current tokens and halving the refill rate until recovery.
func (r *rateLimiter) throttle(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	until := now.Add(d)
	if until.After(r.throttledUntil) {
		r.throttledUntil = until
	}
	r.lastRefill = r.throttledUntil
	r.tokens = 0
	r.refillRate = r.baseRefillRate * throttleRecoveryFactor
}
