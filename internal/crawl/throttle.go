package crawl

import (
	"context"
	"sync"
	"time"
)

// Throttle is the crawl-wide politeness state shared by all workers. A 429
// response pauses the entire crawl and raises the inter-request delay for
// every worker, not just the one that got throttled.
type Throttle struct {
	mu          sync.Mutex
	delay       time.Duration
	maxDelay    time.Duration
	pausedUntil time.Time
}

// NewThrottle constructs a throttle starting at the configured delay.
func NewThrottle(delay time.Duration) *Throttle {
	if delay < 0 {
		delay = 0
	}
	return &Throttle{
		delay:    delay,
		maxDelay: 30 * time.Second,
	}
}

// Wait sleeps for the current inter-request delay plus any active pause
// window. It returns early if the context finishes.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	wait := t.delay
	if until := time.Until(t.pausedUntil); until > wait {
		wait = until
	}
	t.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RateLimited doubles the shared delay (capped) and pauses all workers for
// one full backoff window before new requests are allowed.
func (t *Throttle) RateLimited() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delay == 0 {
		t.delay = 500 * time.Millisecond
	} else {
		t.delay *= 2
	}
	if t.delay > t.maxDelay {
		t.delay = t.maxDelay
	}
	t.pausedUntil = time.Now().Add(t.delay * 4)
	return t.delay
}

// Delay returns the current shared inter-request delay.
func (t *Throttle) Delay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.delay
}
