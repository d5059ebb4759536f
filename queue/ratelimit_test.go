package queue

import (
	"context"
	"testing"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/ratelimit"
)

func TestDispatchThrottledByRateLimiter(t *testing.T) {
	ctx := context.Background()
	orch, q := newTestOrchestrator(t, 10)
	orch.cfg.RateLimiter = ratelimit.NewLimiters(ratelimit.Config{RequestsPerSecond: 0.001, Burst: 1})
	orch.cfg.RateLimiter.Allow("receipts") // drain the initial burst token

	orch.RegisterProcessor("receipts", "create", func(ctx context.Context, item *Item) error { return nil })
	id, _ := orch.Enqueue(ctx, Item{Resource: "receipts", Operation: "create", Priority: PriorityHigh, MaxRetries: 3})

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	orch.Drain(drainCtx)

	item, _ := q.Get(id)
	if item.Status == StatusCompleted {
		t.Fatal("expected dispatch to be throttled by the rate limiter's exhausted burst")
	}
}
