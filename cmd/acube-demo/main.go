// Command acube-demo runs the offline-enqueue/online-drain scenario from
// spec §8: three receipt operations are enqueued while offline, then
// dispatched in priority order once connectivity returns.
//
// Usage:
//
//	acube-demo offline-drain
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/analytics"
	"github.com/a-cube-io/ereceipts-sdk-go/events"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
	"github.com/a-cube-io/ereceipts-sdk-go/queue"
	"github.com/a-cube-io/ereceipts-sdk-go/resilience"
	"github.com/a-cube-io/ereceipts-sdk-go/storage"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "offline-drain":
		cmdOfflineDrain()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`acube-demo - e-receipt SDK offline/online demo

Usage:
  acube-demo offline-drain   Enqueue while offline, then drain once connectivity returns`)
}

func cmdOfflineDrain() {
	ctx := context.Background()
	logger := logging.New("acube-demo", "info", "text")
	bus := events.New(logger)

	sub := storage.New(storage.NewMemoryBackend(), storage.Config{Namespace: queue.Namespace}, logger)
	defer sub.Close(ctx)

	q := queue.NewPriorityQueue(sub, 100)
	breakers := resilience.NewRegistry(resilience.Config{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: 5 * time.Second}, bus, logger)

	orch := queue.NewOrchestrator(q, breakers, bus, logger, queue.OrchestratorConfig{
		BatchLimit: 10,
		Strategy:   queue.Strategy{GroupBy: queue.GroupByResource, MaxItemsPerBatch: 1},
	})
	collector := analytics.NewCollector(analytics.Config{Queue: orch, QueueDepth: q}, bus, logger)

	labels := make(map[string]string)
	var dispatchOrder []string
	orch.Subscribe(func(ev events.Event) {
		if ev.Name != events.NameQueueItemCompleted {
			return
		}
		if completed, ok := ev.Payload.(events.QueueItemCompletedEvent); ok {
			dispatchOrder = append(dispatchOrder, labels[completed.ItemID])
		}
	})

	orch.RegisterProcessor("receipts", "create", func(ctx context.Context, item *queue.Item) error { return nil })
	orch.RegisterProcessor("receipts", "delete", func(ctx context.Context, item *queue.Item) error { return nil })

	orch.SetOnline(ctx, false)

	aID, _ := orch.Enqueue(ctx, queue.Item{Resource: "receipts", Operation: "create", Priority: queue.PriorityHigh, MaxRetries: 3})
	bID, _ := orch.Enqueue(ctx, queue.Item{Resource: "receipts", Operation: "create", Priority: queue.PriorityNormal, MaxRetries: 3})
	cID, _ := orch.Enqueue(ctx, queue.Item{Resource: "receipts", Operation: "delete", Priority: queue.PriorityCritical, MaxRetries: 3})
	labels[aID], labels[bID], labels[cID] = "A", "B", "C"

	fmt.Println("enqueued while offline: A, B, C")
	orch.Drain(ctx)
	fmt.Println("no dispatch expected while offline; breaker state:", breakers.State("receipts"))

	orch.SetOnline(ctx, true)
	fmt.Println("connectivity restored; dispatch order:", dispatchOrder)

	for _, id := range []string{aID, bID, cID} {
		item, _ := q.Get(id)
		fmt.Printf("item %s status=%s\n", labels[id], item.Status)
	}
	fmt.Println("breaker state after drain:", breakers.State("receipts"))

	snap := collector.Snapshot()
	fmt.Printf("health score: %.2f, bottleneck: %q, success rate: %.2f\n", snap.HealthScore, string(snap.Bottleneck), snap.SuccessRate)
}
