// Package stats provides a small interface for emitting counters, gauges and
// histograms without tying callers to a metrics backend.
package stats

// Metric names emitted by the settings cache and store.
const (
	// Partitioned cache.
	MetricCacheHits       = "modbot_settings_cache_hits_total"
	MetricCacheMisses     = "modbot_settings_cache_misses_total"
	MetricCacheEvictions  = "modbot_settings_cache_evictions_total"
	MetricCachePartitions = "modbot_settings_cache_partitions"

	// Settings store.
	MetricStoreLoads       = "modbot_settings_backend_loads_total"
	MetricStoreLoadErrors  = "modbot_settings_backend_load_errors_total"
	MetricStoreWrites      = "modbot_settings_backend_writes_total"
	MetricStoreWriteErrors = "modbot_settings_backend_write_errors_total"
	MetricStoreLatency     = "modbot_settings_backend_latency_seconds"
)

// Collector defines the interface for collecting metrics.
type Collector interface {
	// IncCounter increments a counter metric by delta.
	IncCounter(name string, delta int64)

	// SetGauge sets a gauge metric to value.
	SetGauge(name string, value int64)

	// ObserveHistogram records a value in a histogram metric.
	ObserveHistogram(name string, value float64)
}

// OrNoop returns c, or a Noop collector when c is nil.
func OrNoop(c Collector) Collector {
	if c == nil {
		return NewNoop()
	}
	return c
}
