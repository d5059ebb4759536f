package events

import "time"

// Name enumerates the closed set of events the core publishes (spec §9):
// every Name below has exactly one matching payload struct, so a subscriber
// never needs to guess a payload's shape from a bare string.
type Name string

const (
	NameLoginStarted   Name = "login:start"
	NameLoginSucceeded Name = "login:success"
	NameLoginFailed    Name = "login:failed"
	NameSessionCreated Name = "session:created"
	NameSessionRestored Name = "session:restored"
	NameLogout          Name = "logout"

	NameRefreshStarted   Name = "refresh:start"
	NameRefreshSucceeded Name = "refresh:success"
	NameRefreshFailed    Name = "refresh:failure"
	NameTokenExpired     Name = "expired"

	NameQueueItemCompleted      Name = "queue:item:completed"
	NameQueueItemDead           Name = "queue:item:dead"
	NameQueueItemRetryScheduled Name = "queue:item:retry_scheduled"
	NameConflictResolved        Name = "conflict:resolved"

	NameCircuitStateChanged Name = "circuit:state_changed"
	NameStorageError        Name = "storage:error"
	NamePerformanceMetrics  Name = "performance:metrics"
)

// LoginStartedEvent is published the moment Login begins (TopicAuth).
type LoginStartedEvent struct{}

// LoginSucceededEvent carries the composed user's identity (TopicAuth).
type LoginSucceededEvent struct {
	UserID        string
	Email         string
	MerchantID    string
	CashierID     string
	PointOfSaleID string
}

// LoginFailedEvent carries the classified login error (TopicAuth).
type LoginFailedEvent struct {
	Err error
}

// SessionCreatedEvent carries the Access Control session id (TopicAuth).
type SessionCreatedEvent struct {
	SessionID string
}

// SessionRestoredEvent marks a successful RestoreSession (TopicAuth).
type SessionRestoredEvent struct {
	UserID string
}

// LogoutEvent carries the caller-supplied logout reason (TopicAuth).
type LogoutEvent struct {
	Reason string
}

// TokenRefreshStartedEvent marks the start of a refresh attempt (TopicAuth).
type TokenRefreshStartedEvent struct{}

// TokenRefreshSucceededEvent carries the new token's remaining lifetime (TopicAuth).
type TokenRefreshSucceededEvent struct {
	ExpiresIn time.Duration
}

// TokenRefreshFailedEvent carries one failed refresh attempt's error (TopicAuth).
type TokenRefreshFailedEvent struct {
	Err error
}

// TokenExpiredEvent is published once the refresh attempt budget is
// exhausted and the access token has been cleared (TopicAuth).
type TokenExpiredEvent struct {
	Err error
}

// QueueItemCompletedEvent reports a successfully dispatched item (TopicQueue).
type QueueItemCompletedEvent struct {
	ItemID   string
	Resource string
	Priority string
	Duration time.Duration
}

// QueueItemDeadEvent reports an item moved to the dead-letter state (TopicQueue).
type QueueItemDeadEvent struct {
	ItemID   string
	Resource string
	Priority string
	Reason   string
}

// QueueItemRetryScheduledEvent reports an item parked back onto the pending
// queue after a retryable failure (TopicQueue).
type QueueItemRetryScheduledEvent struct {
	ItemID     string
	Resource   string
	RetryCount int
	Reason     string
}

// ConflictResolvedEvent reports one conflict resolution outcome (TopicQueue).
type ConflictResolvedEvent struct {
	ItemID     string
	Resource   string
	Resolution any
}

// CircuitStateChangedEvent reports a per-resource breaker transition (TopicQueue).
type CircuitStateChangedEvent struct {
	Resource string
	From     string
	To       string
}

// StorageErrorEvent reports a Storage Substrate operation failure (TopicStorage).
type StorageErrorEvent struct {
	Operation string
	Key       string
	Err       error
}
