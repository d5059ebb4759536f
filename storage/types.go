// Package storage implements the Storage Substrate: a namespaced key/value
// store with pluggable backends, TTL, optional encryption, an LRU cache,
// write coalescing and a compression threshold.
package storage

import "time"

// SchemaVersion is written into every persisted entry's metadata.
const SchemaVersion = "1.0.0"

// Metadata describes a Storage Entry's envelope (spec §6 persisted layout).
type Metadata struct {
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Encrypted  bool       `json:"encrypted"`
	Compressed bool       `json:"compressed"`
	Version    string     `json:"version"`
}

func (m Metadata) expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// Entry is a single value returned from the substrate, decoded and ready to use.
type Entry struct {
	Key      string
	Value    []byte
	Metadata Metadata
}

// SetOptions controls how a single Set call is stored.
type SetOptions struct {
	TTL      time.Duration
	Version  string
	Encrypt  bool
	Compress bool // force compression regardless of size threshold
}

// SortField selects the field Query results are ordered by.
type SortField string

const (
	SortByKey       SortField = "key"
	SortByCreatedAt SortField = "created_at"
	SortByUpdatedAt SortField = "updated_at"
)

// SortOrder controls ascending/descending Query ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryOptions filters and orders a Query call.
type QueryOptions struct {
	Namespace      string
	Prefix         string
	Limit          int
	Offset         int
	SortBy         SortField
	SortOrder      SortOrder
	IncludeExpired bool
}

// Stats summarizes substrate health for the analytics component.
type Stats struct {
	EntryCount      int
	CacheHits       int64
	CacheMisses     int64
	CacheSize       int
	CoalescedWrites int64
	CorruptedEntries int64
	Sweeps          int64
}
