package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/events"
	"github.com/a-cube-io/ereceipts-sdk-go/queue"
	"github.com/a-cube-io/ereceipts-sdk-go/resilience"
	"github.com/a-cube-io/ereceipts-sdk-go/storage"
)

func newTestQueueOrchestrator(t *testing.T, bus *events.Bus) (*queue.Orchestrator, *queue.PriorityQueue) {
	t.Helper()
	sub := storage.New(storage.NewMemoryBackend(), storage.Config{Namespace: queue.Namespace}, nil)
	t.Cleanup(func() { sub.Close(context.Background()) })
	q := queue.NewPriorityQueue(sub, 100)
	breakers := resilience.NewRegistry(resilience.Config{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: 50 * time.Millisecond}, bus, nil)
	orch := queue.NewOrchestrator(q, breakers, bus, nil, queue.OrchestratorConfig{
		BatchLimit: 10,
		Strategy:   queue.Strategy{GroupBy: queue.GroupByResource, MaxItemsPerBatch: 10},
	})
	return orch, q
}

func TestSnapshotTracksCompletionsAndThroughput(t *testing.T) {
	bus := events.New(nil)
	orch, _ := newTestQueueOrchestrator(t, bus)
	collector := NewCollector(Config{Queue: orch}, bus, nil)

	orch.RegisterProcessor("receipts", "create", func(ctx context.Context, item *queue.Item) error { return nil })
	_, _ = orch.Enqueue(context.Background(), queue.Item{Resource: "receipts", Operation: "create", Priority: queue.PriorityHigh, MaxRetries: 3})
	orch.Drain(context.Background())

	snap := collector.Snapshot()
	if snap.ThroughputPerMinute != 1 {
		t.Fatalf("expected throughput of 1 completion in the last minute, got %v", snap.ThroughputPerMinute)
	}
	if snap.ByPriority[string(queue.PriorityHigh)] != 1 {
		t.Fatalf("expected 1 high-priority completion, got %v", snap.ByPriority)
	}
	if snap.ByResource["receipts"] != 1 {
		t.Fatalf("expected 1 receipts completion, got %v", snap.ByResource)
	}
	if snap.SuccessRate != 1.0 {
		t.Fatalf("expected success rate 1.0, got %v", snap.SuccessRate)
	}
}

func TestSnapshotReflectsDeadItemsInSuccessRate(t *testing.T) {
	bus := events.New(nil)
	orch, _ := newTestQueueOrchestrator(t, bus)
	collector := NewCollector(Config{Queue: orch}, bus, nil)

	_, _ = orch.Enqueue(context.Background(), queue.Item{Resource: "receipts", Operation: "create", Priority: queue.PriorityHigh, MaxRetries: 3})
	orch.Drain(context.Background())

	snap := collector.Snapshot()
	if snap.SuccessRate != 0.0 {
		t.Fatalf("expected success rate 0 after a dead item with no processor, got %v", snap.SuccessRate)
	}
	if snap.Bottleneck != BottleneckHighErrorRate {
		t.Fatalf("expected high_error_rate bottleneck, got %v", snap.Bottleneck)
	}
	if snap.HealthScore >= 0.5 {
		t.Fatalf("expected a degraded health score, got %v", snap.HealthScore)
	}
}

func TestSnapshotDefaultsToHealthyWithNoActivity(t *testing.T) {
	bus := events.New(nil)
	orch, _ := newTestQueueOrchestrator(t, bus)
	collector := NewCollector(Config{Queue: orch}, bus, nil)

	snap := collector.Snapshot()
	if snap.HealthScore != 1.0 {
		t.Fatalf("expected perfect health with no activity, got %v", snap.HealthScore)
	}
	if snap.Bottleneck != BottleneckNone {
		t.Fatalf("expected no bottleneck with no activity, got %v", snap.Bottleneck)
	}
}

func TestBackpressureBottleneckFromQueueDepth(t *testing.T) {
	bus := events.New(nil)
	orch, q := newTestQueueOrchestrator(t, bus)
	collector := NewCollector(Config{Queue: orch, QueueDepth: q, BackpressureDepth: 1}, bus, nil)

	orch.Pause()
	_, _ = orch.Enqueue(context.Background(), queue.Item{Resource: "receipts", Operation: "create", Priority: queue.PriorityHigh, MaxRetries: 3})
	_, _ = orch.Enqueue(context.Background(), queue.Item{Resource: "receipts", Operation: "create", Priority: queue.PriorityHigh, MaxRetries: 3})

	snap := collector.Snapshot()
	if snap.Bottleneck != BottleneckBackpressure {
		t.Fatalf("expected backpressure bottleneck with a deep queue, got %v", snap.Bottleneck)
	}
}

func TestRecordBreakerTransitionMarksResourceOverload(t *testing.T) {
	bus := events.New(nil)
	orch, _ := newTestQueueOrchestrator(t, bus)
	collector := NewCollector(Config{Queue: orch}, bus, nil)

	collector.RecordBreakerTransition("receipts", resilience.StateClosed, resilience.StateOpen)

	snap := collector.Snapshot()
	if snap.BreakerTrips != 1 {
		t.Fatalf("expected 1 breaker trip recorded, got %d", snap.BreakerTrips)
	}
	if len(snap.OpenBreakers) != 1 || snap.OpenBreakers[0] != "receipts" {
		t.Fatalf("expected receipts listed as an open breaker, got %v", snap.OpenBreakers)
	}
	if snap.Bottleneck != BottleneckResourceOverload {
		t.Fatalf("expected resource_overload bottleneck, got %v", snap.Bottleneck)
	}

	collector.RecordBreakerTransition("receipts", resilience.StateOpen, resilience.StateClosed)
	snap = collector.Snapshot()
	if len(snap.OpenBreakers) != 0 {
		t.Fatalf("expected open breakers cleared after closing, got %v", snap.OpenBreakers)
	}
}

func TestStartPeriodicEmissionPublishesSnapshots(t *testing.T) {
	bus := events.New(nil)
	orch, _ := newTestQueueOrchestrator(t, bus)
	collector := NewCollector(Config{Queue: orch}, bus, nil)

	received := make(chan events.Event, 4)
	bus.Subscribe(events.TopicMetrics, func(ev events.Event) { received <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	collector.StartPeriodicEmission(ctx, 10*time.Millisecond)
	defer collector.Stop()

	select {
	case ev := <-received:
		if ev.Name != "performance:metrics" {
			t.Fatalf("unexpected event name: %s", ev.Name)
		}
		if _, ok := ev.Payload.(Snapshot); !ok {
			t.Fatalf("expected Snapshot payload, got %T", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected at least one performance:metrics event")
	}
	cancel()
}
