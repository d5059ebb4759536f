package analytics

import (
	"container/ring"
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/a-cube-io/ereceipts-sdk-go/events"
	"github.com/a-cube-io/ereceipts-sdk-go/logging"
	"github.com/a-cube-io/ereceipts-sdk-go/queue"
	"github.com/a-cube-io/ereceipts-sdk-go/resilience"
)

// throughputWindow is how far back ThroughputPerMinute looks.
const throughputWindow = time.Minute

// processingSampleCap bounds the in-memory processing-time ring so a long
// session doesn't grow it unboundedly.
const processingSampleCap = 512

// QueueStatsProvider exposes the orchestrator's rolling counters.
type QueueStatsProvider interface {
	Stats() queue.Stats
}

// QueueDepthProvider exposes the queue's current pending depth.
type QueueDepthProvider interface {
	Len() int
}

// CacheStatsProvider is satisfied by rbac.Engine and tokenstore.Store, whose
// Stats() methods return shapes that are structurally CacheStats.
type CacheStatsProvider interface {
	Stats() CacheStats
}

// Config wires the optional stats sources. Every field may be nil/absent;
// the collector degrades gracefully (the corresponding Snapshot rate is
// reported as 1.0, i.e. "no evidence of a problem").
type Config struct {
	Queue       QueueStatsProvider
	QueueDepth  QueueDepthProvider
	Permissions CacheStatsProvider
	Tokens      CacheStatsProvider

	SlowProcessorThreshold time.Duration // default 5s
	BackpressureDepth      int           // default 500
}

func (c Config) withDefaults() Config {
	if c.SlowProcessorThreshold <= 0 {
		c.SlowProcessorThreshold = 5 * time.Second
	}
	if c.BackpressureDepth <= 0 {
		c.BackpressureDepth = 500
	}
	return c
}

// Collector subscribes to the event bus's queue topic and accumulates the
// rolling counters described in spec §4.12.
type Collector struct {
	cfg    Config
	bus    *events.Bus
	logger *logging.Logger

	mu              sync.Mutex
	completionTimes []time.Time
	byPriority      map[string]int64
	byResource      map[string]int64
	processingTimes *ring.Ring
	retryCount      int64

	breakerMu    sync.Mutex
	breakerTrips int64
	openBreakers map[string]bool

	promRegistry   *prometheus.Registry
	promItems      *prometheus.CounterVec
	promProcessing prometheus.Histogram
	promBreaker    *prometheus.CounterVec
	promHealth     prometheus.Gauge

	unsubscribe func()

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector constructs a Collector and subscribes it to bus's queue
// topic. bus may be nil (the collector then only serves pulled Snapshots).
func NewCollector(cfg Config, bus *events.Bus, logger *logging.Logger) *Collector {
	reg := prometheus.NewRegistry()
	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acube_queue_items_total",
		Help: "Queue items observed by the analytics collector, by terminal status.",
	}, []string{"status"})
	processing := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "acube_queue_item_processing_seconds",
		Help:    "Observed processing time (enqueue to completion) of queue items.",
		Buckets: prometheus.DefBuckets,
	})
	breaker := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "acube_circuit_breaker_trips_total",
		Help: "Circuit breaker open transitions, by resource.",
	}, []string{"resource"})
	health := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "acube_health_score",
		Help: "Composite health score in [0,1] (spec §4.12).",
	})
	reg.MustRegister(items, processing, breaker, health)

	c := &Collector{
		cfg:             cfg.withDefaults(),
		bus:             bus,
		logger:          logger,
		byPriority:      make(map[string]int64),
		byResource:      make(map[string]int64),
		processingTimes: ring.New(processingSampleCap),
		openBreakers:    make(map[string]bool),
		promRegistry:    reg,
		promItems:       items,
		promProcessing:  processing,
		promBreaker:     breaker,
		promHealth:      health,
		stopCh:          make(chan struct{}),
	}

	if bus != nil {
		c.unsubscribe = bus.Subscribe(events.TopicQueue, c.handleQueueEvent)
	}
	return c
}

// Registry exposes the collector's private Prometheus registry so callers
// can wire their own /metrics exposition; the collector never runs an HTTP
// server itself (spec's Non-goals: no UI, no servers of its own).
func (c *Collector) Registry() *prometheus.Registry { return c.promRegistry }

func (c *Collector) handleQueueEvent(ev events.Event) {
	switch ev.Name {
	case events.NameQueueItemCompleted:
		if payload, ok := ev.Payload.(events.QueueItemCompletedEvent); ok {
			c.recordCompletion(payload)
		}
	case events.NameQueueItemDead:
		if payload, ok := ev.Payload.(events.QueueItemDeadEvent); ok {
			c.recordTerminal("dead", payload.Priority, payload.Resource)
		}
	case events.NameQueueItemRetryScheduled:
		c.mu.Lock()
		c.retryCount++
		c.mu.Unlock()
		c.promItems.WithLabelValues("retried").Inc()
	}
}

func (c *Collector) recordCompletion(ev events.QueueItemCompletedEvent) {
	now := time.Now()

	c.mu.Lock()
	c.completionTimes = append(c.completionTimes, now)
	c.completionTimes = pruneOlderThan(c.completionTimes, now.Add(-throughputWindow))
	c.byPriority[ev.Priority]++
	c.byResource[ev.Resource]++
	if ev.Duration > 0 {
		c.processingTimes.Value = ev.Duration
		c.processingTimes = c.processingTimes.Next()
	}
	c.mu.Unlock()

	c.promItems.WithLabelValues("completed").Inc()
	if ev.Duration > 0 {
		c.promProcessing.Observe(ev.Duration.Seconds())
	}
}

func (c *Collector) recordTerminal(status, priority, resource string) {
	c.mu.Lock()
	c.byPriority[priority]++
	c.byResource[resource]++
	c.mu.Unlock()
	c.promItems.WithLabelValues(status).Inc()
}

// RecordBreakerTransition should be wired as a resilience.Config's
// OnStateChange hook (alongside the logger's) to feed breaker-trip and
// resource_overload accounting.
func (c *Collector) RecordBreakerTransition(resource string, from, to resilience.State) {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()
	if to == resilience.StateOpen {
		c.breakerTrips++
		c.openBreakers[resource] = true
		c.promBreaker.WithLabelValues(resource).Inc()
	} else if from == resilience.StateOpen {
		delete(c.openBreakers, resource)
	}
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && ts[idx].Before(cutoff) {
		idx++
	}
	return ts[idx:]
}

// Snapshot computes the current rolling summary (spec §4.12). Safe to call
// concurrently and on whatever cadence the caller chooses.
func (c *Collector) Snapshot() Snapshot {
	now := time.Now()

	c.mu.Lock()
	c.completionTimes = pruneOlderThan(c.completionTimes, now.Add(-throughputWindow))
	throughput := float64(len(c.completionTimes))
	byPriority := copyCounts(c.byPriority)
	byResource := copyCounts(c.byResource)
	avgProcessing := c.averageProcessingLocked()
	retryCount := c.retryCount
	c.mu.Unlock()

	var queueStats queue.Stats
	var depth int
	if c.cfg.Queue != nil {
		queueStats = c.cfg.Queue.Stats()
	}
	if c.cfg.QueueDepth != nil {
		depth = c.cfg.QueueDepth.Len()
	}

	successRate := computeSuccessRate(queueStats)

	permHitRate := 1.0
	if c.cfg.Permissions != nil {
		if rate, ok := c.cfg.Permissions.Stats().hitRate(); ok {
			permHitRate = rate
		}
	}
	tokenHitRate := 1.0
	if c.cfg.Tokens != nil {
		if rate, ok := c.cfg.Tokens.Stats().hitRate(); ok {
			tokenHitRate = rate
		}
	}

	c.breakerMu.Lock()
	breakerTrips := c.breakerTrips
	openBreakers := make([]string, 0, len(c.openBreakers))
	for r := range c.openBreakers {
		openBreakers = append(openBreakers, r)
	}
	c.breakerMu.Unlock()

	snap := Snapshot{
		Timestamp:              now,
		ThroughputPerMinute:     throughput,
		SuccessRate:             successRate,
		AvgProcessingTime:       avgProcessing,
		ByPriority:              byPriority,
		ByResource:              byResource,
		PermissionCacheHitRate:  permHitRate,
		TokenCacheHitRate:       tokenHitRate,
		BreakerTrips:            breakerTrips,
		OpenBreakers:            openBreakers,
		RetryCount:              retryCount,
	}

	healthScore, bottleneck := score(snap, depth, c.cfg)
	snap.HealthScore = healthScore
	snap.Bottleneck = bottleneck
	c.promHealth.Set(healthScore)

	return snap
}

func (c *Collector) averageProcessingLocked() time.Duration {
	var total time.Duration
	var count int
	c.processingTimes.Do(func(v any) {
		if d, ok := v.(time.Duration); ok {
			total += d
			count++
		}
	})
	if count == 0 {
		return 0
	}
	return total / time.Duration(count)
}

func computeSuccessRate(s queue.Stats) float64 {
	terminal := s.Completed + s.Dead
	if terminal == 0 {
		return 1.0
	}
	return float64(s.Completed) / float64(terminal)
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// StartPeriodicEmission publishes a Snapshot on bus's performance metrics
// topic every interval, until ctx is cancelled or Stop is called (spec
// §4.12: "Emits performance:metrics periodically").
func (c *Collector) StartPeriodicEmission(ctx context.Context, interval time.Duration) {
	if c.bus == nil || interval <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				snap := c.Snapshot()
				c.bus.Publish(events.Event{Topic: events.TopicMetrics, Name: events.NamePerformanceMetrics, Payload: snap})
				if c.logger != nil {
					c.logger.WithFields(logrus.Fields{
						"health_score": snap.HealthScore,
						"bottleneck":   string(snap.Bottleneck),
					}).Info("performance metrics emitted")
				}
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts periodic emission and unsubscribes from the event bus.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}
