// Package queue implements the Priority Queue (spec §4.7), Batch Planner
// (spec §4.8) and Queue Orchestrator (spec §4.11): the offline-first
// dispatch pipeline every queued receipt operation flows through.
package queue

import "time"

// Priority orders items for dispatch; lower Rank dispatches first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Rank returns the dispatch rank for p; critical < high < normal < low.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// Status is a Queue Item's position in the status machine (spec §4.7).
type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDead       Status = "dead"
)

// Item is one unit of queued work against a resource.
type Item struct {
	ID           string
	Resource     string
	Operation    string
	Priority     Priority
	Status       Status
	Payload      []byte
	Dependencies []string
	RetryCount   int
	MaxRetries   int
	ScheduledAt  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastError    string
}

// Partial describes a set of fields to patch atomically via Update.
type Partial struct {
	Status      *Status
	ScheduledAt *time.Time
	RetryCount  *int
	LastError   *string
}

func (i *Item) applyPartial(p Partial) {
	if p.Status != nil {
		i.Status = *p.Status
	}
	if p.ScheduledAt != nil {
		i.ScheduledAt = *p.ScheduledAt
	}
	if p.RetryCount != nil {
		i.RetryCount = *p.RetryCount
	}
	if p.LastError != nil {
		i.LastError = *p.LastError
	}
	i.UpdatedAt = time.Now().UTC()
}
