// Package cache implements the per-guild settings cache: a sharded map of
// guild partitions, each a bounded LFU store.
package cache

import (
	"github.com/small-frappuccino/modbot/pkg/stats"
)

const (
	// DefaultCapacity is the number of settings kept per guild.
	DefaultCapacity = 50
	// DefaultShards is the number of lock stripes over the guild map.
	DefaultShards = 32
)

// CacheKey addresses one setting of one guild.
type CacheKey struct {
	PartitionID uint64
	Name        string
}

// Config holds configuration for the partitioned cache.
type Config struct {
	// Capacity bounds the entries of each guild partition.
	Capacity int
	// Shards is the number of lock stripes over the partition map.
	Shards int
	// Stats receives hit, miss, eviction and partition metrics. Optional.
	Stats stats.Collector
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Capacity: DefaultCapacity,
		Shards:   DefaultShards,
	}
}

// Partitioned routes settings to one KeyedLFU per guild. Partitions are
// created on insert and pruned as soon as an invalidation leaves them empty.
// The partition count is unbounded; only entries per partition are capped.
type Partitioned struct {
	shards   []partitionShard
	capacity int
	stats    stats.Collector
}

// NewPartitioned creates a partitioned cache. Zero fields in cfg take their
// defaults.
func NewPartitioned(cfg Config) *Partitioned {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Shards <= 0 {
		cfg.Shards = DefaultShards
	}

	p := &Partitioned{
		shards:   make([]partitionShard, cfg.Shards),
		capacity: cfg.Capacity,
		stats:    stats.OrNoop(cfg.Stats),
	}
	for i := range p.shards {
		p.shards[i].partitions = make(map[uint64]*KeyedLFU)
	}
	return p
}

// Get returns the cached value for key. A missing partition is a miss and is
// not created.
func (p *Partitioned) Get(key CacheKey) (string, bool) {
	part := p.shardFor(key.PartitionID).get(key.PartitionID)
	if part == nil {
		p.stats.IncCounter(stats.MetricCacheMisses, 1)
		return "", false
	}
	v, ok := part.Get(key.Name)
	if ok {
		p.stats.IncCounter(stats.MetricCacheHits, 1)
	} else {
		p.stats.IncCounter(stats.MetricCacheMisses, 1)
	}
	return v, ok
}

// Insert stores value for key, creating the guild partition when needed.
func (p *Partitioned) Insert(key CacheKey, value string) {
	sh := p.shardFor(key.PartitionID)
	for {
		part, created := sh.getOrCreate(key.PartitionID, p.capacity)
		if created {
			p.reportPartitions()
		}
		_, evicted, ok := part.insert(key.Name, value)
		if !ok {
			// Pruned between lookup and insert; resolve again.
			continue
		}
		if evicted {
			p.stats.IncCounter(stats.MetricCacheEvictions, 1)
		}
		return
	}
}

// Invalidate removes key and drops the guild partition if it is now empty.
func (p *Partitioned) Invalidate(key CacheKey) {
	sh := p.shardFor(key.PartitionID)
	part := sh.get(key.PartitionID)
	if part == nil {
		return
	}
	part.Invalidate(key.Name)
	if part.Len() == 0 && sh.pruneIfEmpty(key.PartitionID, part) {
		p.reportPartitions()
	}
}

// Partitions returns the number of guild partitions currently tracked.
func (p *Partitioned) Partitions() int {
	n := 0
	for i := range p.shards {
		n += p.shards[i].len()
	}
	return n
}

// PartitionLen returns the entry count of a guild partition and whether the
// partition exists.
func (p *Partitioned) PartitionLen(partitionID uint64) (int, bool) {
	part := p.shardFor(partitionID).get(partitionID)
	if part == nil {
		return 0, false
	}
	return part.Len(), true
}

// Capacity returns the per-partition entry limit.
func (p *Partitioned) Capacity() int { return p.capacity }

func (p *Partitioned) reportPartitions() {
	p.stats.SetGauge(stats.MetricCachePartitions, int64(p.Partitions()))
}

func (p *Partitioned) shardFor(partitionID uint64) *partitionShard {
	return &p.shards[HashPartition(partitionID)%uint64(len(p.shards))]
}

// FNV-1a 64-bit parameters.
const (
	FNVOffset64 = 14695981039346656037
	FNVPrime64  = 1099511628211
)

// HashPartition is the FNV-1a hash of the little-endian bytes of id.
// Snowflake ids carry a timestamp in the high bits, so the raw value spreads
// poorly across shards. Callers may keep folding bytes into the result with
// FNVPrime64.
func HashPartition(id uint64) uint64 {
	h := uint64(FNVOffset64)
	for i := 0; i < 8; i++ {
		h ^= id & 0xff
		h *= FNVPrime64
		id >>= 8
	}
	return h
}
