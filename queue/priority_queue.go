package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	sdkerrors "github.com/a-cube-io/ereceipts-sdk-go/errors"
	"github.com/a-cube-io/ereceipts-sdk-go/storage"
)

// Namespace is the Storage Substrate namespace every queue mutation is
// persisted under (spec §4.7).
const Namespace = "queue"

// PriorityQueue is a bounded collection of Items ordered by
// (priority_rank ASC, created_at ASC), persisted through a Storage Substrate.
type PriorityQueue struct {
	substrate *storage.Substrate
	maxSize   int

	mu    sync.RWMutex
	items map[string]*Item
}

// NewPriorityQueue constructs a queue bounded to maxSize items, persisted
// through substrate.
func NewPriorityQueue(substrate *storage.Substrate, maxSize int) *PriorityQueue {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &PriorityQueue{substrate: substrate, maxSize: maxSize, items: make(map[string]*Item)}
}

// Restore loads persisted items on startup, demoting any item still marked
// processing back to pending (spec §4.7: the owning process may have crashed).
func (q *PriorityQueue) Restore(ctx context.Context) error {
	entries, err := q.substrate.Query(ctx, storage.QueryOptions{Prefix: ""})
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range entries {
		var item Item
		if err := json.Unmarshal(entry.Value, &item); err != nil {
			continue
		}
		if item.Status == StatusProcessing {
			item.Status = StatusPending
			item.UpdatedAt = time.Now().UTC()
		}
		q.items[item.ID] = &item
	}
	return nil
}

func (q *PriorityQueue) persist(ctx context.Context, item *Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return sdkerrors.Internal("marshal queue item", err)
	}
	return q.substrate.Set(ctx, item.ID, raw, storage.SetOptions{})
}

// Enqueue adds item, assigning it an id, rejecting with QueueFull when the
// queue is at maxSize and either item is itself low priority or no
// low-priority pending item can be evicted.
func (q *PriorityQueue) Enqueue(ctx context.Context, item Item) (string, error) {
	now := time.Now().UTC()
	item.ID = uuid.New().String()
	item.Status = StatusPending
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.ScheduledAt.IsZero() {
		item.ScheduledAt = now
	}

	q.mu.Lock()
	if len(q.items) >= q.maxSize {
		evicted := item.Priority != PriorityLow && q.evictLowPriorityLocked()
		if !evicted {
			q.mu.Unlock()
			return "", sdkerrors.QueueFull()
		}
	}
	q.items[item.ID] = &item
	q.mu.Unlock()

	if err := q.persist(ctx, &item); err != nil {
		q.mu.Lock()
		delete(q.items, item.ID)
		q.mu.Unlock()
		return "", err
	}
	return item.ID, nil
}

// evictLowPriorityLocked drops one low-priority pending item, if any, to
// make room for an incoming higher-priority item. Caller holds q.mu.
func (q *PriorityQueue) evictLowPriorityLocked() bool {
	var victim *Item
	for _, it := range q.items {
		if it.Priority == PriorityLow && it.Status == StatusPending {
			if victim == nil || it.CreatedAt.Before(victim.CreatedAt) {
				victim = it
			}
		}
	}
	if victim == nil {
		return false
	}
	delete(q.items, victim.ID)
	return true
}

// Dequeue removes and returns the item with id.
func (q *PriorityQueue) Dequeue(ctx context.Context, id string) (*Item, error) {
	q.mu.Lock()
	item, ok := q.items[id]
	if ok {
		delete(q.items, id)
	}
	q.mu.Unlock()
	if !ok {
		return nil, sdkerrors.NotFound("queue_item", id)
	}
	if _, err := q.substrate.Delete(ctx, id); err != nil {
		return nil, err
	}
	return item, nil
}

// Get returns the item with id, or (nil, false).
func (q *PriorityQueue) Get(id string) (*Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	if !ok {
		return nil, false
	}
	copied := *item
	return &copied, true
}

// PeekReady returns pending items whose scheduled_at <= now, in priority
// order, up to limit.
func (q *PriorityQueue) PeekReady(limit int) []*Item {
	now := time.Now()
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ready []*Item
	for _, it := range q.items {
		if it.Status == StatusPending && !it.ScheduledAt.After(now) {
			copied := *it
			ready = append(ready, &copied)
		}
	}
	sortByPriorityThenCreated(ready)
	if limit > 0 && limit < len(ready) {
		ready = ready[:limit]
	}
	return ready
}

// ByResource returns every item for resource, in priority order.
func (q *PriorityQueue) ByResource(resource string) []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*Item
	for _, it := range q.items {
		if it.Resource == resource {
			copied := *it
			out = append(out, &copied)
		}
	}
	sortByPriorityThenCreated(out)
	return out
}

// Update atomically patches item id with partial and bumps updated-at.
func (q *PriorityQueue) Update(ctx context.Context, id string, partial Partial) (*Item, error) {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok {
		q.mu.Unlock()
		return nil, sdkerrors.NotFound("queue_item", id)
	}
	item.applyPartial(partial)
	copied := *item
	q.mu.Unlock()

	if err := q.persist(ctx, &copied); err != nil {
		return nil, err
	}
	return &copied, nil
}

// Len returns the current item count.
func (q *PriorityQueue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func sortByPriorityThenCreated(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority.Rank() != items[j].Priority.Rank() {
			return items[i].Priority.Rank() < items[j].Priority.Rank()
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
