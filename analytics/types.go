// Package analytics implements the Analytics component (spec §4.12): rolling
// counters, a health score in [0,1], and a bottleneck classification, fed by
// the typed event bus rather than each component rolling its own ad hoc
// counters (SPEC_FULL.md §5 "Stats/introspection surface").
package analytics

import "time"

// Bottleneck is one of the classifications spec §4.12 names.
type Bottleneck string

const (
	BottleneckNone            Bottleneck = ""
	BottleneckBackpressure    Bottleneck = "backpressure"
	BottleneckResourceOverload Bottleneck = "resource_overload"
	BottleneckHighErrorRate   Bottleneck = "high_error_rate"
	BottleneckSlowProcessors  Bottleneck = "slow_processors"
)

// CacheStats is the (hits, misses) shape shared by rbac.Stats and
// tokenstore.Stats, normalised here so the collector doesn't need to special
// case either source.
type CacheStats struct {
	Hits   int64
	Misses int64
}

func (c CacheStats) hitRate() (float64, bool) {
	total := c.Hits + c.Misses
	if total == 0 {
		return 0, false
	}
	return float64(c.Hits) / float64(total), true
}

// QueueSnapshot mirrors the queue.Stats counters plus current depth in a
// shape decoupled from the queue package. The Collector does not use it: it
// reads queue statistics through Config.Queue (a QueueStatsProvider).
type QueueSnapshot struct {
	Dispatched int64
	Completed  int64
	Failed     int64
	Dead       int64
	Retried    int64
	Depth      int
}

// Snapshot is the payload of a periodic "performance:metrics" event (spec
// §4.12).
type Snapshot struct {
	Timestamp time.Time

	ThroughputPerMinute float64
	SuccessRate         float64
	AvgProcessingTime   time.Duration

	ByPriority map[string]int64
	ByResource map[string]int64

	PermissionCacheHitRate float64
	TokenCacheHitRate      float64

	BreakerTrips    int64
	OpenBreakers    []string
	RetryCount      int64

	HealthScore float64
	Bottleneck  Bottleneck
}
