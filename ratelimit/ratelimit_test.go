package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForCreatesDistinctLimitersPerResource(t *testing.T) {
	l := NewLimiters(Config{RequestsPerSecond: 10, Burst: 1})
	a := l.For("receipts")
	b := l.For("cashiers")
	assert.NotSame(t, a, b, "expected distinct limiters per resource")
	assert.Same(t, a, l.For("receipts"), "expected the same limiter instance on repeated lookups")
}

func TestAllowRespectsBurst(t *testing.T) {
	l := NewLimiters(Config{RequestsPerSecond: 1, Burst: 1})
	assert.True(t, l.Allow("receipts"), "expected first call to consume the initial burst token")
	assert.False(t, l.Allow("receipts"), "expected second immediate call to be throttled")
}

func TestWaitUnblocksOnceTokenAvailable(t *testing.T) {
	l := NewLimiters(Config{RequestsPerSecond: 1000, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Wait(ctx, "receipts"))
}

func TestWaitReturnsErrorOnCancelledContext(t *testing.T) {
	l := NewLimiters(Config{RequestsPerSecond: 0.001, Burst: 1})
	_ = l.Allow("receipts") // consume the only burst token
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, "receipts"), "expected Wait to fail once the context deadline is tighter than the refill rate")
}
