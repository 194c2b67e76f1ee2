// Package fetcher provides a bounded-concurrency, priority-ordered
// byte-range fetch service shared by every stream session in the process.
package fetcher

import "time"

// BackoffFunc computes the delay before retry attempt n (1-based).
type BackoffFunc func(attempt int, base time.Duration) time.Duration

// LinearBackoff scales the base delay by the attempt number.
func LinearBackoff(attempt int, base time.Duration) time.Duration {
	return time.Duration(attempt) * base
}

// RetryPolicy is the single retry/backoff policy shared by the chunk
// fetcher and the stream sessions, injected rather than scattered across
// call sites.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the backoff unit.
	BaseDelay time.Duration

	// Backoff computes the per-attempt delay. Nil means LinearBackoff.
	Backoff BackoffFunc
}

// DefaultRetryPolicy returns the standard chunk retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
	}
}

// Delay returns the backoff delay before the given retry attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if p.Backoff != nil {
		return p.Backoff(attempt, p.BaseDelay)
	}
	return LinearBackoff(attempt, p.BaseDelay)
}

// Attempts returns the effective attempt count, never below one.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}
