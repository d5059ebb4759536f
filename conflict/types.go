// Package conflict implements the Conflict Resolver (spec §4.10): classifies
// a server-reported conflict and applies a client-wins, server-wins, merge,
// or manual strategy, recording a confidence score for every resolution.
package conflict

import "time"

// Class names the kind of conflict the server reported for a write.
type Class string

const (
	ClassVersionMismatch       Class = "version_mismatch"
	ClassConcurrentModification Class = "concurrent_modification"
	ClassStaleData             Class = "stale_data"
	ClassMissingDependency     Class = "missing_dependency"
	ClassValidationError       Class = "validation_error"
	ClassPermissionDenied      Class = "permission_denied"
	ClassResourceLocked        Class = "resource_locked"
	ClassSchemaIncompatible    Class = "schema_incompatible"
)

// Strategy is one of the four resolution strategies spec §4.10 describes.
type Strategy string

const (
	StrategyClientWins Strategy = "client_wins"
	StrategyServerWins Strategy = "server_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

// FieldStrategy selects, per field, how a merge picks a winning value.
type FieldStrategy string

const (
	FieldClient          FieldStrategy = "client"
	FieldServer          FieldStrategy = "server"
	FieldLatestTimestamp FieldStrategy = "latest_timestamp"
	FieldArrayMerge      FieldStrategy = "array_merge"
	FieldCustom          FieldStrategy = "custom"
)

// CustomResolver picks a winning value for one field given both sides.
type CustomResolver func(client, server any) any

// MergeRules configures the merge strategy for one resource: a field-name to
// FieldStrategy map, plus custom resolvers for fields using FieldCustom.
type MergeRules struct {
	Fields  map[string]FieldStrategy
	Custom  map[string]CustomResolver
}

// Conflict describes one server-reported write conflict for a queue item.
type Conflict struct {
	Resource       string
	ItemID         string
	Reason         string // server-supplied reason string, used for classification
	LocalPayload   map[string]any
	ServerPayload  map[string]any
	LocalTimestamp time.Time
	ServerTimestamp time.Time
	Override       Strategy // caller override of the default strategy, if any
}

// Resolution is the outcome of resolving a Conflict.
type Resolution struct {
	Class             Class
	Strategy          Strategy
	Data              map[string]any
	Confidence        float64
	DataSource        string // "local", "server", "merged", or "user" (manual decision)
	RequiresUserInput bool
	TimedOut          bool
	ResolvedAt        time.Time
}
