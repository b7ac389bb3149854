// Package prometheus exposes stats.Collector metrics through a Prometheus registry.
package prometheus

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/small-frappuccino/modbot/pkg/stats"
)

var help = map[string]string{
	stats.MetricCacheHits:        "Settings cache lookups served from memory.",
	stats.MetricCacheMisses:      "Settings cache lookups that found no entry.",
	stats.MetricCacheEvictions:   "Settings evicted by the per-guild LFU policy.",
	stats.MetricCachePartitions:  "Guild partitions currently held by the settings cache.",
	stats.MetricStoreLoads:       "Settings read from the backing database after a cache miss.",
	stats.MetricStoreLoadErrors:  "Backing database reads that failed and were treated as unset.",
	stats.MetricStoreWrites:      "Settings written to the backing database.",
	stats.MetricStoreWriteErrors: "Backing database writes that failed.",
	stats.MetricStoreLatency:     "Latency of backing database calls in seconds.",
}

// Collector implements stats.Collector using Prometheus metrics.
type Collector struct {
	registry prometheus.Registerer

	mu         sync.RWMutex
	counters   map[string]prometheus.Counter
	gauges     map[string]prometheus.Gauge
	histograms map[string]prometheus.Histogram
}

var _ stats.Collector = (*Collector)(nil)

// New creates a collector registering into registry.
// If registry is nil, prometheus.DefaultRegisterer is used.
func New(registry prometheus.Registerer) *Collector {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Collector{
		registry:   registry,
		counters:   make(map[string]prometheus.Counter),
		gauges:     make(map[string]prometheus.Gauge),
		histograms: make(map[string]prometheus.Histogram),
	}
}

// IncCounter increments a counter metric.
func (c *Collector) IncCounter(name string, delta int64) {
	if delta < 0 {
		return
	}
	getOrCreate(c, c.counters, name, func() prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: helpFor(name)})
	}).Add(float64(delta))
}

// SetGauge sets a gauge metric.
func (c *Collector) SetGauge(name string, value int64) {
	getOrCreate(c, c.gauges, name, func() prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: helpFor(name)})
	}).Set(float64(value))
}

// ObserveHistogram records a value in a histogram.
func (c *Collector) ObserveHistogram(name string, value float64) {
	getOrCreate(c, c.histograms, name, func() prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    name,
			Help:    helpFor(name),
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		})
	}).Observe(value)
}

func helpFor(name string) string {
	if h, ok := help[name]; ok {
		return h
	}
	return name
}

// getOrCreate looks up a metric under the read lock and falls back to
// creating and registering it under the write lock. A metric already present
// in the registry is reused.
func getOrCreate[M prometheus.Collector](c *Collector, metrics map[string]M, name string, build func() M) M {
	c.mu.RLock()
	m, ok := metrics[name]
	c.mu.RUnlock()
	if ok {
		return m
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok = metrics[name]; ok {
		return m
	}

	m = build()
	if err := c.registry.Register(m); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(M); ok {
				m = existing
			}
		}
	}
	metrics[name] = m
	return m
}
