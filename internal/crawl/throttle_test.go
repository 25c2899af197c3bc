package crawl

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleRateLimitedDoublesDelay(t *testing.T) {
	t.Parallel()

	th := NewThrottle(time.Second)
	assert.Equal(t, time.Second, th.Delay())

	assert.Equal(t, 2*time.Second, th.RateLimited())
	assert.Equal(t, 4*time.Second, th.RateLimited())
	assert.Equal(t, 4*time.Second, th.Delay())
}

func TestThrottleRateLimitedFromZero(t *testing.T) {
	t.Parallel()

	th := NewThrottle(0)
	assert.Equal(t, 500*time.Millisecond, th.RateLimited())
}

func TestThrottleRateLimitedCaps(t *testing.T) {
	t.Parallel()

	th := NewThrottle(20 * time.Second)
	assert.Equal(t, 30*time.Second, th.RateLimited())
	assert.Equal(t, 30*time.Second, th.RateLimited())
}

func TestThrottleWaitZeroDelayReturnsImmediately(t *testing.T) {
	t.Parallel()

	th := NewThrottle(0)
	start := time.Now()
	require.NoError(t, th.Wait(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestThrottleWaitHonorsCancel(t *testing.T) {
	t.Parallel()

	th := NewThrottle(10 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := th.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestThrottleWaitIncludesPauseWindow(t *testing.T) {
	t.Parallel()

	th := NewThrottle(10 * time.Millisecond)
	th.RateLimited() // delay 20ms, pause window 80ms

	start := time.Now()
	require.NoError(t, th.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}
