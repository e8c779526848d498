package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set-function cache outcomes.
const (
	CacheHit       = "hit"
	CacheMiss      = "miss"
	CacheAbandoned = "abandoned"
	CacheBypass    = "bypass"
)

// Rewrite outcomes.
const (
	RewriteApplied  = "applied"
	RewriteSkipped  = "skipped"
	RewriteExcluded = "excluded"
)

var (
	setFuncCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dggs_setfunc_cache_total",
			Help: "Set-function membership tests by cache outcome.",
		},
		[]string{"relation", "outcome"},
	)

	fallbackScanLength = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dggs_setfunc_fallback_scan_zones",
			Help:    "Zones visited by one bounded fallback scan.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10), // 1 to ~260k
		},
		[]string{"relation"},
	)

	iterationLimitFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dggs_setfunc_iteration_limit_exceeded_total",
			Help: "Fallback scans that hit the iteration limit.",
		},
		[]string{"relation"},
	)

	rewrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dggs_filter_rewrites_total",
			Help: "Filter rewrite decisions by rule and outcome.",
		},
		[]string{"rule", "outcome"},
	)

	unionRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dggs_geometry_union_retries_total",
			Help: "Reduced-precision union attempts.",
		},
	)

	storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Store operations by op and result.",
		},
		[]string{"op", "result"},
	)

	sourceMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_source_messages_total",
			Help: "Messages read by feature stream sources by outcome.",
		},
		[]string{"source", "outcome"},
	)

	storeOpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"op"},
	)
)

func dggsCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		setFuncCache,
		fallbackScanLength,
		iterationLimitFailures,
		rewrites,
		unionRetries,
		storeOps,
		storeOpDuration,
		sourceMessages,
	}
}

func ObserveSetFuncCache(relation, outcome string) {
	setFuncCache.WithLabelValues(relation, outcome).Inc()
}

func ObserveFallbackScan(relation string, visited int) {
	fallbackScanLength.WithLabelValues(relation).Observe(float64(visited))
}

func IncIterationLimitExceeded(relation string) {
	iterationLimitFailures.WithLabelValues(relation).Inc()
}

func ObserveRewrite(rule, outcome string) {
	rewrites.WithLabelValues(rule, outcome).Inc()
}

func ObserveUnionRetry() {
	unionRetries.Inc()
}

func ObserveStoreOp(op string, err error, seconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOps.WithLabelValues(op, result).Inc()
	storeOpDuration.WithLabelValues(op).Observe(seconds)
}

// ObserveSourceMessage counts one message read by a feature source; outcome is
// "ok" or the failure kind.
func ObserveSourceMessage(source, outcome string) {
	sourceMessages.WithLabelValues(source, outcome).Inc()
}
