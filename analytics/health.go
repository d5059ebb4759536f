package analytics

// Weights for the health score's components (spec §4.12: "a weighted
// combination"). Success rate dominates since it's the most direct signal of
// user-visible trouble; the rest are secondary contributors.
const (
	weightSuccessRate     = 0.6
	weightCacheHitRate    = 0.15
	weightBreakerHealth   = 0.15
	weightProcessingSpeed = 0.1
)

// score derives the health score and a bottleneck classification from a
// Snapshot's already-computed rates, plus the current queue depth (not part
// of Snapshot itself, since it's a point-in-time gauge rather than a rolling
// counter).
func score(s Snapshot, depth int, cfg Config) (float64, Bottleneck) {
	cacheHitRate := (s.PermissionCacheHitRate + s.TokenCacheHitRate) / 2

	breakerHealth := 1.0
	if len(s.OpenBreakers) > 0 {
		// Any open breaker is a hard signal of trouble for that resource;
		// treat this coarsely rather than trying to weigh "how many resources".
		breakerHealth = 0.0
	}

	processingSpeed := 1.0
	if cfg.SlowProcessorThreshold > 0 && s.AvgProcessingTime > 0 {
		processingSpeed = 1 - float64(s.AvgProcessingTime)/float64(cfg.SlowProcessorThreshold)
		processingSpeed = clamp01(processingSpeed)
	}

	health := weightSuccessRate*s.SuccessRate +
		weightCacheHitRate*cacheHitRate +
		weightBreakerHealth*breakerHealth +
		weightProcessingSpeed*processingSpeed

	return clamp01(health), classify(s, depth, cfg)
}

// classify picks the single most likely bottleneck. Checked in an order
// that favors the most actionable signal: an outright backlog before a
// degraded-but-moving system.
func classify(s Snapshot, depth int, cfg Config) Bottleneck {
	switch {
	case depth >= cfg.BackpressureDepth:
		return BottleneckBackpressure
	case len(s.OpenBreakers) > 0:
		return BottleneckResourceOverload
	case s.SuccessRate < 0.5:
		return BottleneckHighErrorRate
	case cfg.SlowProcessorThreshold > 0 && s.AvgProcessingTime > cfg.SlowProcessorThreshold:
		return BottleneckSlowProcessors
	default:
		return BottleneckNone
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
