package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/a-cube-io/ereceipts-sdk-go/events"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
	"github.com/a-cube-io/ereceipts-sdk-go/ratelimit"
	"github.com/a-cube-io/ereceipts-sdk-go/resilience"
)

// Processor executes one queue item against the remote service. A non-nil
// error is classified by classify: a *ProcessorError by its Code, a
// *sdkerrors.SDKError by its code or Recoverable flag; any other error
// classifies as non-retryable.
type Processor func(ctx context.Context, item *Item) error

// OrchestratorConfig tunes the processing loop.
type OrchestratorConfig struct {
	TickInterval time.Duration
	BatchLimit   int
	Strategy     Strategy
	Retry        resilience.RetryConfig

	// RateLimiter, when set, throttles dispatch per resource with a token
	// bucket (spec's domain-stack wiring for golang.org/x/time/rate). Nil
	// disables throttling entirely.
	RateLimiter *ratelimit.Limiters
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 100
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry = resilience.DefaultRetryConfig()
	}
	return c
}

// Stats summarises orchestrator activity for the analytics component.
type Stats struct {
	Dispatched int64
	Completed  int64
	Failed     int64
	Dead       int64
	Retried    int64
}

// Orchestrator owns the processing loop described in spec §4.11.
type Orchestrator struct {
	queue    *PriorityQueue
	planner  *Planner
	breakers *resilience.Registry
	bus      *events.Bus
	logger   *logging.Logger
	cfg      OrchestratorConfig

	mu         sync.Mutex
	processors map[string]Processor
	paused     atomic.Bool
	online     atomic.Bool

	statsMu sync.Mutex
	stats   Stats

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOrchestrator constructs an Orchestrator over queue.
func NewOrchestrator(q *PriorityQueue, breakers *resilience.Registry, bus *events.Bus, logger *logging.Logger, cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		queue:      q,
		planner:    NewPlanner(),
		breakers:   breakers,
		bus:        bus,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		processors: make(map[string]Processor),
		stopCh:     make(chan struct{}),
	}
	o.online.Store(true)
	return o
}

func processorKey(resource, operation string) string { return resource + ":" + operation }

// RegisterProcessor installs fn as the handler for (resource, operation).
func (o *Orchestrator) RegisterProcessor(resource, operation string, fn Processor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.processors[processorKey(resource, operation)] = fn
}

// Enqueue adds item to the underlying queue.
func (o *Orchestrator) Enqueue(ctx context.Context, item Item) (string, error) {
	return o.queue.Enqueue(ctx, item)
}

// Dequeue removes item id from the underlying queue.
func (o *Orchestrator) Dequeue(ctx context.Context, id string) (*Item, error) {
	return o.queue.Dequeue(ctx, id)
}

// Pause prevents new batches from being dispatched; in-flight items continue.
func (o *Orchestrator) Pause() { o.paused.Store(true) }

// Resume re-enables dispatch.
func (o *Orchestrator) Resume() { o.paused.Store(false) }

// SetOnline updates the connectivity signal. A false→true transition
// triggers an immediate drain (spec §4.11).
func (o *Orchestrator) SetOnline(ctx context.Context, online bool) {
	was := o.online.Swap(online)
	if online && !was {
		o.Drain(ctx)
	}
}

// Subscribe registers h for every queue event published on the bus.
func (o *Orchestrator) Subscribe(h events.Handler) func() {
	if o.bus == nil {
		return func() {}
	}
	return o.bus.Subscribe(events.TopicQueue, h)
}

// Stats returns a snapshot of orchestrator counters.
func (o *Orchestrator) Stats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return o.stats
}

// Start runs the processing loop on cfg.TickInterval until Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ticker := time.NewTicker(o.cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.Drain(ctx)
			case <-o.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the processing loop. In-flight dispatches are not cancelled.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}

// Drain fetches ready items, plans batches, and dispatches them once. Safe
// to call directly (e.g. after a connectivity transition) as well as from
// the ticker loop.
func (o *Orchestrator) Drain(ctx context.Context) {
	if o.paused.Load() || !o.online.Load() {
		return
	}

	ready := o.queue.PeekReady(o.cfg.BatchLimit)
	if len(ready) == 0 {
		return
	}
	ready = o.filterDependencyBlocked(ready)
	if len(ready) == 0 {
		return
	}

	batches := o.planner.Plan(ready, o.cfg.Strategy)
	for _, batch := range batches {
		o.dispatchBatch(ctx, batch)
	}
}

// filterDependencyBlocked removes items whose dependencies are not all
// completed (spec §4.11 ordering guarantees).
func (o *Orchestrator) filterDependencyBlocked(items []*Item) []*Item {
	out := make([]*Item, 0, len(items))
	for _, it := range items {
		blocked := false
		for _, depID := range it.Dependencies {
			dep, ok := o.queue.Get(depID)
			if !ok || dep.Status != StatusCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, it)
		}
	}
	return out
}

func (o *Orchestrator) dispatchBatch(ctx context.Context, batch *Batch) {
	if batch.Expired(time.Now()) {
		o.failBatch(ctx, batch, batch.Items)
		return
	}
	if batch.Mode == ModeParallel {
		var wg sync.WaitGroup
		for _, item := range batch.Items {
			wg.Add(1)
			go func(it *Item) {
				defer wg.Done()
				o.dispatchItem(ctx, it)
			}(item)
		}
		wg.Wait()
		return
	}
	for i, item := range batch.Items {
		if batch.Expired(time.Now()) {
			o.failBatch(ctx, batch, batch.Items[i:])
			return
		}
		o.dispatchItem(ctx, item)
	}
}

// failBatch marks batch failed once it has outlived its lifetime and turns
// every not-yet-dispatched member into a retry candidate (spec §4.8/§8: "batch
// exceeds lifetime ⇒ marked failed; each member becomes a retry candidate").
func (o *Orchestrator) failBatch(ctx context.Context, batch *Batch, remaining []*Item) {
	batch.Status = BatchFailed
	if o.logger != nil {
		o.logger.LogQueueEvent(ctx, batch.ID, "batch_failed", nil)
	}
	for _, item := range remaining {
		o.rescheduleExpiredItem(ctx, item)
	}
}

// rescheduleExpiredItem treats a batch-lifetime timeout like a retryable
// processor failure: a retry candidate if the item's budget allows, dead
// otherwise.
func (o *Orchestrator) rescheduleExpiredItem(ctx context.Context, item *Item) {
	const reason = "batch_expired"
	if item.RetryCount >= item.MaxRetries {
		o.markDead(ctx, item, reason)
		return
	}

	attempt := item.RetryCount + 1
	delay := resilience.NextDelay(o.cfg.Retry, attempt)
	scheduledAt := time.Now().Add(delay)
	status := StatusPending
	msg := reason

	_, _ = o.queue.Update(ctx, item.ID, Partial{
		Status:      &status,
		ScheduledAt: &scheduledAt,
		RetryCount:  &attempt,
		LastError:   &msg,
	})

	o.statsMu.Lock()
	o.stats.Retried++
	o.statsMu.Unlock()
	if o.logger != nil {
		o.logger.LogQueueEvent(ctx, item.ID, "retry_scheduled", nil)
	}
	o.publish(events.NameQueueItemRetryScheduled, events.QueueItemRetryScheduledEvent{ItemID: item.ID, Resource: item.Resource, RetryCount: attempt, Reason: reason})
}

func (o *Orchestrator) dispatchItem(ctx context.Context, item *Item) {
	o.mu.Lock()
	proc, ok := o.processors[processorKey(item.Resource, item.Operation)]
	o.mu.Unlock()

	if !ok {
		o.markDead(ctx, item, "no_processor")
		return
	}

	if o.cfg.RateLimiter != nil {
		if err := o.cfg.RateLimiter.Wait(ctx, item.Resource); err != nil {
			return
		}
	}

	if _, err := o.queue.Update(ctx, item.ID, Partial{Status: statusPtr(StatusProcessing)}); err != nil {
		return
	}

	o.statsMu.Lock()
	o.stats.Dispatched++
	o.statsMu.Unlock()

	breaker := o.breakers.For(item.Resource)
	err := breaker.Execute(ctx, func() error { return proc(ctx, item) })

	if err == nil {
		o.markCompleted(ctx, item)
		return
	}
	o.handleFailure(ctx, item, err)
}

func (o *Orchestrator) markCompleted(ctx context.Context, item *Item) {
	_, _ = o.queue.Update(ctx, item.ID, Partial{Status: statusPtr(StatusCompleted)})
	o.statsMu.Lock()
	o.stats.Completed++
	o.statsMu.Unlock()
	if o.logger != nil {
		o.logger.LogQueueEvent(ctx, item.ID, string(StatusCompleted), nil)
	}
	o.publish(events.NameQueueItemCompleted, events.QueueItemCompletedEvent{
		ItemID:   item.ID,
		Resource: item.Resource,
		Priority: string(item.Priority),
		Duration: time.Since(item.CreatedAt),
	})
}

func (o *Orchestrator) markDead(ctx context.Context, item *Item, reason string) {
	_, _ = o.queue.Update(ctx, item.ID, Partial{Status: statusPtr(StatusDead), LastError: &reason})
	o.statsMu.Lock()
	o.stats.Dead++
	o.statsMu.Unlock()
	if o.logger != nil {
		o.logger.LogQueueEvent(ctx, item.ID, string(StatusDead), nil)
	}
	o.publish(events.NameQueueItemDead, events.QueueItemDeadEvent{
		ItemID:   item.ID,
		Resource: item.Resource,
		Priority: string(item.Priority),
		Reason:   reason,
	})
}

func (o *Orchestrator) handleFailure(ctx context.Context, item *Item, err error) {
	code := classify(err)
	msg := err.Error()

	if item.RetryCount >= item.MaxRetries || !IsRetryable(code) {
		o.markDead(ctx, item, msg)
		return
	}

	attempt := item.RetryCount + 1
	delay := resilience.NextDelay(o.cfg.Retry, attempt)
	scheduledAt := time.Now().Add(delay)
	status := StatusPending

	_, _ = o.queue.Update(ctx, item.ID, Partial{
		Status:      &status,
		ScheduledAt: &scheduledAt,
		RetryCount:  &attempt,
		LastError:   &msg,
	})

	o.statsMu.Lock()
	o.stats.Retried++
	o.statsMu.Unlock()
	if o.logger != nil {
		o.logger.LogQueueEvent(ctx, item.ID, "retry_scheduled", err)
	}
	o.publish(events.NameQueueItemRetryScheduled, events.QueueItemRetryScheduledEvent{ItemID: item.ID, Resource: item.Resource, RetryCount: attempt, Reason: msg})
}

func (o *Orchestrator) publish(name events.Name, payload any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{Topic: events.TopicQueue, Name: name, Payload: payload})
}

func statusPtr(s Status) *Status { return &s }
