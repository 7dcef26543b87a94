// Package retry implements the exponential-backoff-with-jitter retry
// policy shared by the orchestrator's IMAP fetch path and sink ingest
// path: min(cap, base*2^(attempt-1)) + U(0, jitter), attempts counted
// from 1, no sleep after the final attempt.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
)

// Policy configures a retry loop.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	Jitter      time.Duration
}

// Backoff returns the delay to sleep after the given attempt (counted
// from 1) has failed and before the next one starts, per spec's formula.
// Do calls it with attempts 1..N-1, never after the final attempt.
func Backoff(p Policy, attempt int) time.Duration {
	exp := float64(p.Base) * float64(uint64(1)<<uint(attempt-1))
	capped := exp
	if capped > float64(p.Cap) {
		capped = float64(p.Cap)
	}
	jitter := rand.Float64() * float64(p.Jitter)
	return time.Duration(capped + jitter)
}

// TransientIOError wraps an error classified as retryable I/O failure
// (network error, timeout, 5xx-equivalent). It is the taxonomy
// counterpart to a terminal error: callers retry on it and give up
// only once a policy's attempt budget is exhausted.
type TransientIOError struct {
	Op  string
	Err error
}

func (e *TransientIOError) Error() string {
	return eris.Wrap(e.Err, "transient I/O error during "+e.Op).Error()
}

func (e *TransientIOError) Unwrap() error { return e.Err }

// ParseError indicates a server response could not be parsed. No code
// path in this module constructs it; the orchestrator's fetch path wraps
// every fetch failure in TransientIOError and retries it under its policy.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string {
	return eris.Wrap(e.Err, "parse error: "+e.Context).Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Do runs fn up to p.MaxAttempts times (attempts counted from 1),
// sleeping Backoff(p, attempt) between attempts as long as
// isRetryable(err) holds and ctx is not done. It returns the last
// error once attempts are exhausted, or nil on the first success.
func Do(ctx context.Context, p Policy, isRetryable func(error) bool, fn func(attempt int) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(p, attempt)):
		}
	}
	return lastErr
}
