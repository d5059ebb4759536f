package queue

import (
	"context"
	"testing"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/storage"
)

func newTestQueue(t *testing.T, maxSize int) *PriorityQueue {
	t.Helper()
	sub := storage.New(storage.NewMemoryBackend(), storage.Config{Namespace: Namespace}, nil)
	t.Cleanup(func() { sub.Close(context.Background()) })
	return NewPriorityQueue(sub, maxSize)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 10)

	id, err := q.Enqueue(ctx, Item{Resource: "receipts", Operation: "create", Priority: PriorityHigh})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	item, err := q.Dequeue(ctx, id)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if item.Resource != "receipts" {
		t.Fatalf("unexpected item: %+v", item)
	}

	if _, ok := q.Get(id); ok {
		t.Fatal("expected item to be gone after dequeue")
	}
}

func TestPeekReadyOrdersByPriorityThenCreated(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 10)

	_, _ = q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityHigh})
	_, _ = q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityNormal})
	_, _ = q.Enqueue(ctx, Item{Resource: "r", Operation: "delete", Priority: PriorityCritical})

	ready := q.PeekReady(10)
	if len(ready) != 3 {
		t.Fatalf("expected 3 ready items, got %d", len(ready))
	}
	if ready[0].Priority != PriorityCritical || ready[1].Priority != PriorityHigh || ready[2].Priority != PriorityNormal {
		t.Fatalf("unexpected dispatch order: %v, %v, %v", ready[0].Priority, ready[1].Priority, ready[2].Priority)
	}
}

func TestPeekReadyExcludesFutureScheduled(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 10)

	_, _ = q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityHigh, ScheduledAt: time.Now().Add(time.Hour)})

	ready := q.PeekReady(10)
	if len(ready) != 0 {
		t.Fatalf("expected no ready items, got %d", len(ready))
	}
}

func TestQueueFullRejectsWithoutLowPriorityVictim(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2)

	_, _ = q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityHigh})
	_, _ = q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityNormal})

	_, err := q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityHigh})
	if err == nil {
		t.Fatal("expected QueueFull error")
	}
}

func TestQueueFullEvictsLowPriorityItem(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 2)

	lowID, _ := q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityLow})
	_, _ = q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityNormal})

	_, err := q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityCritical})
	if err != nil {
		t.Fatalf("expected low-priority eviction to make room: %v", err)
	}
	if _, ok := q.Get(lowID); ok {
		t.Fatal("expected low-priority item to have been evicted")
	}
}

func TestUpdatePatchesStatus(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 10)

	id, _ := q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityHigh})
	status := StatusCompleted
	updated, err := q.Update(ctx, id, Partial{Status: &status})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %v", updated.Status)
	}
}

func TestRestoreDemotesProcessingToPending(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryBackend()
	sub := storage.New(backend, storage.Config{Namespace: Namespace}, nil)
	defer sub.Close(ctx)

	q := NewPriorityQueue(sub, 10)
	id, _ := q.Enqueue(ctx, Item{Resource: "r", Operation: "create", Priority: PriorityHigh})
	processing := StatusProcessing
	_, _ = q.Update(ctx, id, Partial{Status: &processing})

	restored := NewPriorityQueue(sub, 10)
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	item, ok := restored.Get(id)
	if !ok {
		t.Fatal("expected restored item to be present")
	}
	if item.Status != StatusPending {
		t.Fatalf("expected processing item demoted to pending, got %v", item.Status)
	}
}
