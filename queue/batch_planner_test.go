package queue

import (
	"testing"
	"time"
)

func makeItem(resource string, priority Priority, deps ...string) *Item {
	return &Item{
		ID:           resource + "-" + string(priority),
		Resource:     resource,
		Priority:     priority,
		Status:       StatusPending,
		Dependencies: deps,
		CreatedAt:    time.Now(),
	}
}

func TestPlanGroupsByResource(t *testing.T) {
	items := []*Item{
		makeItem("receipts", PriorityHigh),
		makeItem("receipts", PriorityNormal),
		makeItem("customers", PriorityNormal),
	}

	planner := NewPlanner()
	batches := planner.Plan(items, Strategy{GroupBy: GroupByResource, MaxItemsPerBatch: 10})

	if len(batches) != 2 {
		t.Fatalf("expected 2 batches (one per resource), got %d", len(batches))
	}
}

func TestPlanRespectsMaxItemsPerBatch(t *testing.T) {
	items := make([]*Item, 5)
	for i := range items {
		items[i] = makeItem("receipts", PriorityNormal)
		items[i].ID = items[i].ID + string(rune('a'+i))
	}

	planner := NewPlanner()
	batches := planner.Plan(items, Strategy{GroupBy: GroupByResource, MaxItemsPerBatch: 2})

	if len(batches) != 3 {
		t.Fatalf("expected 3 batches of size <=2 for 5 items, got %d", len(batches))
	}
	for _, b := range batches {
		if len(b.Items) > 2 {
			t.Fatalf("batch exceeds max items per batch: %d", len(b.Items))
		}
	}
}

func TestPlanModeSequentialWhenDependenciesPresent(t *testing.T) {
	items := []*Item{makeItem("receipts", PriorityHigh, "other-id")}
	planner := NewPlanner()
	batches := planner.Plan(items, Strategy{GroupBy: GroupByResource})
	if batches[0].Mode != ModeSequential {
		t.Fatalf("expected sequential mode with dependencies, got %v", batches[0].Mode)
	}
}

func TestPlanModeParallelWhenUrgentAndIndependent(t *testing.T) {
	items := []*Item{makeItem("receipts", PriorityCritical), makeItem("receipts", PriorityHigh)}
	planner := NewPlanner()
	batches := planner.Plan(items, Strategy{GroupBy: GroupByResource, MaxItemsPerBatch: 10})
	if batches[0].Mode != ModeParallel {
		t.Fatalf("expected parallel mode for independent urgent items, got %v", batches[0].Mode)
	}
}

func TestPlanModeSequentialForLowPriorityIndependent(t *testing.T) {
	items := []*Item{makeItem("receipts", PriorityLow), makeItem("receipts", PriorityNormal)}
	planner := NewPlanner()
	batches := planner.Plan(items, Strategy{GroupBy: GroupByResource, MaxItemsPerBatch: 10})
	if batches[0].Mode != ModeSequential {
		t.Fatalf("expected sequential mode without urgent items, got %v", batches[0].Mode)
	}
}

func TestBatchExpired(t *testing.T) {
	b := &Batch{Status: BatchPending, ExpiresAt: time.Now().Add(-time.Second)}
	if !b.Expired(time.Now()) {
		t.Fatal("expected batch past its lifetime to report expired")
	}
}
