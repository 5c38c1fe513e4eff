package queue

import "time"

// Config holds the dispatch loop settings.
type Config struct {
	// Timeout bounds one Run. The loop stops at the first iteration that
	// starts after it has elapsed.
	Timeout             time.Duration
	EmailDelay          time.Duration
	CheckIterationDelay time.Duration
	MaxAllowedAttempts  int
	RetryBackoff        time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             295 * time.Second,
		EmailDelay:          300 * time.Millisecond,
		CheckIterationDelay: 2 * time.Second,
		MaxAllowedAttempts:  5,
		RetryBackoff:        MinRetryBackoff,
	}
}
