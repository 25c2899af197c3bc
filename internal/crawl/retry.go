package crawl

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"
)

// RetryPolicy decides whether a failed fetch is retried and how long to wait.
// It captures the backoff policy as data so it can be tested on its own.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewRetryPolicy builds a policy with the given attempt cap and sane delays.
func NewRetryPolicy(maxAttempts int) *RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   250 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// ShouldRetry decides whether the error is retryable at the given attempt.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns the jittered wait duration before the next attempt.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

// Attempt tracks the retry state for one URL: how many tries have happened
// and what delay comes next. Terminal once Next returns false.
type Attempt struct {
	policy  *RetryPolicy
	count   int
	lastErr error
}

// NewAttempt starts retry tracking under the given policy.
func (p *RetryPolicy) NewAttempt() *Attempt {
	return &Attempt{policy: p}
}

// Next records err and reports whether another try is allowed, returning the
// delay to wait first.
func (a *Attempt) Next(err error) (time.Duration, bool) {
	a.lastErr = err
	if !a.policy.ShouldRetry(err, a.count+1) {
		return 0, false
	}
	delay := a.policy.Backoff(a.count)
	a.count++
	return delay, true
}

// Count returns the number of retries consumed so far.
func (a *Attempt) Count() int { return a.count }

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
