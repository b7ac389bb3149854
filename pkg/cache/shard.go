package cache

import "sync"

// partitionShard is one lock stripe of the guild -> partition map.
// Lock order is shard before partition.
type partitionShard struct {
	mu         sync.RWMutex
	partitions map[uint64]*KeyedLFU
}

func (s *partitionShard) get(id uint64) *KeyedLFU {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitions[id]
}

func (s *partitionShard) getOrCreate(id uint64, capacity int) (part *KeyedLFU, created bool) {
	if part = s.get(id); part != nil {
		return part, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if part = s.partitions[id]; part != nil {
		return part, false
	}
	part = NewKeyedLFU(capacity)
	s.partitions[id] = part
	return part, true
}

// pruneIfEmpty removes part from the shard when it is still registered under
// id and holds no entries. The partition is retired under its own lock, so an
// insert racing with the prune either lands before it (and the prune is
// skipped) or is refused and retried against a fresh partition.
func (s *partitionShard) pruneIfEmpty(id uint64, part *KeyedLFU) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.partitions[id] != part {
		return false
	}

	part.mu.Lock()
	defer part.mu.Unlock()
	if len(part.data) != 0 {
		return false
	}
	part.retired = true
	delete(s.partitions, id)
	return true
}

func (s *partitionShard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions)
}
