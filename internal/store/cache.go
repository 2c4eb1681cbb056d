package store

import (
	"sync"
	"sync/atomic"
)

const cacheShards = 64

// ValueCache is a sharded FIFO cache of encoded payloads keyed by store key.
// It spares the value log read on hot keys; the index is still consulted on
// every lookup so expiry and deletes are never bypassed.
type ValueCache struct {
	shards      [cacheShards]*valueCacheShard
	maxPerShard int
	hits        uint64
	misses      uint64
}

type valueCacheShard struct {
	mu    sync.RWMutex
	cache map[string][]byte
	order []string // FIFO order for eviction
}

// NewValueCache creates a cache holding about maxEntries payloads.
// It returns nil when maxEntries <= 0; a nil cache is valid and caches nothing.
func NewValueCache(maxEntries int) *ValueCache {
	if maxEntries <= 0 {
		return nil
	}
	maxPerShard := maxEntries / cacheShards
	if maxPerShard < 1 {
		maxPerShard = 1
	}

	vc := &ValueCache{maxPerShard: maxPerShard}
	for i := range vc.shards {
		vc.shards[i] = &valueCacheShard{
			cache: make(map[string][]byte),
		}
	}
	return vc
}

func (vc *ValueCache) shard(key string) *valueCacheShard {
	return vc.shards[fnvHash(key)%cacheShards]
}

// Get returns the cached payload for key. Callers must not modify it.
func (vc *ValueCache) Get(key string) ([]byte, bool) {
	if vc == nil {
		return nil, false
	}
	shard := vc.shard(key)

	shard.mu.RLock()
	data, ok := shard.cache[key]
	shard.mu.RUnlock()

	if ok {
		atomic.AddUint64(&vc.hits, 1)
		return data, true
	}
	atomic.AddUint64(&vc.misses, 1)
	return nil, false
}

// Put adds or updates the payload for key.
func (vc *ValueCache) Put(key string, data []byte) {
	if vc == nil {
		return
	}
	shard := vc.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if _, exists := shard.cache[key]; exists {
		shard.cache[key] = data
		return
	}

	for len(shard.cache) >= vc.maxPerShard && len(shard.order) > 0 {
		oldest := shard.order[0]
		shard.order = shard.order[1:]
		delete(shard.cache, oldest)
	}

	shard.cache[key] = data
	shard.order = append(shard.order, key)
	if len(shard.order) > 2*vc.maxPerShard {
		shard.compactOrder()
	}
}

// compactOrder drops invalidated and duplicate keys from the eviction order,
// keeping the newest position of each live key.
func (s *valueCacheShard) compactOrder() {
	seen := make(map[string]struct{}, len(s.cache))
	kept := make([]string, 0, len(s.cache))
	for i := len(s.order) - 1; i >= 0; i-- {
		k := s.order[i]
		if _, live := s.cache[k]; !live {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, k)
	}
	// kept was filled newest first.
	for i, j := 0, len(kept)-1; i < j; i, j = i+1, j-1 {
		kept[i], kept[j] = kept[j], kept[i]
	}
	s.order = kept
}

// Invalidate removes key from the cache.
func (vc *ValueCache) Invalidate(key string) {
	if vc == nil {
		return
	}
	shard := vc.shard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// The key stays in the order slice and is skipped at eviction time.
	delete(shard.cache, key)
}

// Stats returns cache statistics.
func (vc *ValueCache) Stats() (hits, misses uint64, size int) {
	if vc == nil {
		return 0, 0, 0
	}
	hits = atomic.LoadUint64(&vc.hits)
	misses = atomic.LoadUint64(&vc.misses)

	for _, shard := range vc.shards {
		shard.mu.RLock()
		size += len(shard.cache)
		shard.mu.RUnlock()
	}
	return
}

// Clear empties the cache.
func (vc *ValueCache) Clear() {
	if vc == nil {
		return
	}
	for _, shard := range vc.shards {
		shard.mu.Lock()
		shard.cache = make(map[string][]byte)
		shard.order = shard.order[:0]
		shard.mu.Unlock()
	}
}

// fnvHash computes the 64-bit FNV-1a hash of s.
func fnvHash(s string) uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	return h
}
