package queue

import (
	"math/rand/v2"
	"time"
)

// MinRetryBackoff is the shortest delay the runner waits before retrying a
// failed message.
const MinRetryBackoff = 15 * time.Minute

// RetryPolicy decides whether a failed message gets another attempt and
// when that attempt may happen.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	// Jitter spreads retries of messages that failed together. The delay is
	// Backoff * (1 + rand*Jitter), so jitter only ever lengthens it.
	Jitter float64
}

// NewRetryPolicy creates a RetryPolicy without jitter. Backoffs shorter than
// MinRetryBackoff are raised to it.
func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     max(backoff, MinRetryBackoff),
	}
}

// ShouldRetry reports whether a message that has now failed attempts times
// is still within its budget.
func (p RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// NextAttemptAt returns the earliest time a message that failed at now may
// be picked up again.
func (p RetryPolicy) NextAttemptAt(now time.Time) time.Time {
	base := max(p.Backoff, MinRetryBackoff)
	if p.Jitter > 0 {
		base = time.Duration(float64(base) * (1 + rand.Float64()*p.Jitter))
	}
	return now.Add(base)
}
