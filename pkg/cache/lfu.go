package cache

import (
	"math"
	"sync"
	"sync/atomic"
)

// KeyedLFU is a bounded name -> value store for a single partition that evicts
// the least frequently used entry when it runs out of space.
//
// Reads share the partition lock and bump the entry counter atomically, so
// concurrent hits on one guild do not serialize. Inserts and invalidations take
// the write lock.
type KeyedLFU struct {
	mu       sync.RWMutex
	data     map[string]*lfuEntry
	capacity int
	seq      uint64 // insertion counter, guarded by mu
	retired  bool   // set once the partition is detached from its owner
}

// lfuEntry holds an immutable value plus its access counter. A changed value
// replaces the entry rather than mutating it.
type lfuEntry struct {
	value     string
	frequency atomic.Uint64
	inserted  uint64
}

// NewKeyedLFU creates a partition cache holding at most capacity entries.
// It panics when capacity is not positive.
func NewKeyedLFU(capacity int) *KeyedLFU {
	if capacity <= 0 {
		panic("cache: KeyedLFU capacity must be positive")
	}
	return &KeyedLFU{
		data:     make(map[string]*lfuEntry, capacity),
		capacity: capacity,
	}
}

// Get returns the value stored under name. A hit increments the entry's
// frequency by one, so repeated reads change eviction priority.
func (c *KeyedLFU) Get(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.data[name]
	if !ok {
		return "", false
	}
	e.frequency.Add(1)
	return e.value, true
}

// Insert stores value under name with frequency 0. Overwriting an existing
// name resets its frequency. When a new name arrives at capacity, the entry
// with the lowest frequency is evicted first, oldest insertion on ties.
// It reports the evicted name, if any.
func (c *KeyedLFU) Insert(name, value string) (evicted string, didEvict bool) {
	evicted, didEvict, _ = c.insert(name, value)
	return evicted, didEvict
}

// insert is Insert that refuses to write into a retired partition.
func (c *KeyedLFU) insert(name, value string) (evicted string, didEvict, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired {
		return "", false, false
	}
	if _, exists := c.data[name]; !exists && len(c.data) >= c.capacity {
		evicted, didEvict = c.evictLocked()
	}

	c.seq++
	c.data[name] = &lfuEntry{value: value, inserted: c.seq}
	return evicted, didEvict, true
}

// Invalidate removes name. Missing names are ignored.
func (c *KeyedLFU) Invalidate(name string) {
	c.mu.Lock()
	delete(c.data, name)
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *KeyedLFU) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Capacity returns the configured entry limit.
func (c *KeyedLFU) Capacity() int { return c.capacity }

// frequencyOf exposes the counter for tests.
func (c *KeyedLFU) frequencyOf(name string) (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[name]
	if !ok {
		return 0, false
	}
	return e.frequency.Load(), true
}

// evictLocked removes the minimum-frequency entry. Caller holds the write lock.
func (c *KeyedLFU) evictLocked() (string, bool) {
	var (
		victim  string
		found   bool
		minFreq uint64 = math.MaxUint64
		minSeq  uint64 = math.MaxUint64
	)
	for name, e := range c.data {
		f := e.frequency.Load()
		if f < minFreq || (f == minFreq && e.inserted < minSeq) {
			victim, minFreq, minSeq, found = name, f, e.inserted, true
		}
	}
	if !found {
		// Unreachable while capacity > 0; skip the eviction.
		return "", false
	}
	delete(c.data, victim)
	return victim, true
}
