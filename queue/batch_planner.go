package queue

import (
	"time"

	"github.com/google/uuid"
)

// GroupBy selects how the planner partitions items into batches.
type GroupBy string

const (
	GroupByResource   GroupBy = "group_by_resource"
	GroupByPriority   GroupBy = "group_by_priority"
	GroupByTimeWindow GroupBy = "group_by_time_window"
)

// Strategy configures one Batch Planner run (spec §4.8).
type Strategy struct {
	GroupBy           GroupBy
	WindowSize        time.Duration
	MaxItemsPerBatch  int
	PriorityMixing    bool
	BatchLifetime     time.Duration
}

func (s Strategy) withDefaults() Strategy {
	if s.MaxItemsPerBatch <= 0 {
		s.MaxItemsPerBatch = 20
	}
	if s.WindowSize <= 0 {
		s.WindowSize = time.Second
	}
	if s.BatchLifetime <= 0 {
		s.BatchLifetime = 30 * time.Second
	}
	return s
}

// ProcessingMode is the planner's verdict on how a batch should be dispatched.
type ProcessingMode string

const (
	ModeSequential ProcessingMode = "sequential"
	ModeParallel   ProcessingMode = "parallel"
)

// BatchStatus tracks a Batch's own lifecycle, independent of its items.
type BatchStatus string

const (
	BatchPending BatchStatus = "pending"
	BatchFailed  BatchStatus = "failed"
	BatchDone    BatchStatus = "done"
)

// Batch groups Items dispatched together by the Queue Orchestrator.
type Batch struct {
	ID        string
	Resource  string
	Items     []*Item
	Mode      ProcessingMode
	Status    BatchStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the batch has outlived its lifetime.
func (b *Batch) Expired(now time.Time) bool {
	return b.Status == BatchPending && now.After(b.ExpiresAt)
}

// Planner partitions pending items into Batch records per a Strategy.
type Planner struct{}

// NewPlanner constructs a stateless Planner.
func NewPlanner() *Planner { return &Planner{} }

// Plan groups items into batches under strategy: each group's items, in the
// order given, are split into consecutive batches of at most
// MaxItemsPerBatch items. The Planner keeps no state, so batches returned by
// an earlier Plan call never absorb items passed to a later one.
func (p *Planner) Plan(items []*Item, strategy Strategy) []*Batch {
	strategy = strategy.withDefaults()
	now := time.Now().UTC()

	groups := make(map[string][]*Item)
	order := make([]string, 0)
	for _, it := range items {
		key := groupKey(it, strategy)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], it)
	}

	var batches []*Batch
	for _, key := range order {
		group := groups[key]
		for len(group) > 0 {
			n := strategy.MaxItemsPerBatch
			if n > len(group) {
				n = len(group)
			}
			chunk := group[:n]
			group = group[n:]

			batch := &Batch{
				ID:        uuid.New().String(),
				Resource:  chunk[0].Resource,
				Items:     chunk,
				Status:    BatchPending,
				CreatedAt: now,
				ExpiresAt: now.Add(strategy.BatchLifetime),
			}
			batch.Mode = planMode(chunk)
			batches = append(batches, batch)
		}
	}
	return batches
}

func groupKey(it *Item, strategy Strategy) string {
	switch strategy.GroupBy {
	case GroupByPriority:
		return string(it.Priority)
	case GroupByTimeWindow:
		bucket := it.CreatedAt.Truncate(strategy.WindowSize)
		return it.Resource + "|" + bucket.Format(time.RFC3339Nano)
	default: // GroupByResource
		return it.Resource
	}
}

// planMode chooses sequential when any item has dependencies, parallel when
// all items are independent and at least one is high/critical and the
// count is bounded, sequential otherwise (spec §4.8).
func planMode(items []*Item) ProcessingMode {
	hasDependencies := false
	hasUrgent := false
	for _, it := range items {
		if len(it.Dependencies) > 0 {
			hasDependencies = true
		}
		if it.Priority == PriorityHigh || it.Priority == PriorityCritical {
			hasUrgent = true
		}
	}
	if hasDependencies {
		return ModeSequential
	}
	if hasUrgent && len(items) <= 10 {
		return ModeParallel
	}
	return ModeSequential
}
