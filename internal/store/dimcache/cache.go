// Package dimcache implements the in-memory dimension cache that sits in
// front of Postgres (spec §4.A "Dimension cache", §5 "single shared map with
// per-shard locking — readers never block readers, writers block only
// contenders for the same shard"). It is a fixed number of independently
// locked LRU shards keyed by fingerprint, not one giant map, so that two
// goroutines resolving unrelated resources never contend.
package dimcache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ollyscale/core/internal/store/fingerprint"
)

const defaultShardCount = 32

// Cache is a sharded LRU mapping a fingerprint.ID to a database-assigned
// dimension id (resource_id / scope_id / descriptor_id).
type Cache struct {
	shards []*shard
	mask   uint64
}

type shard struct {
	mu  sync.RWMutex
	lru *lru.Cache[fingerprint.ID, int64]
}

// New builds a Cache with defaultShardCount (32) shards, each holding up to
// perShardCapacity entries. The total bound on resident entries is
// defaultShardCount * perShardCapacity, matching §4.A's "bounded by entry
// count" guarantee.
func New(perShardCapacity int) (*Cache, error) {
	return NewSharded(defaultShardCount, perShardCapacity)
}

// NewSharded is New with an explicit shard count, exposed for tests that
// want to force contention onto a single shard.
func NewSharded(shardCount, perShardCapacity int) (*Cache, error) {
	n := nextPowerOfTwo(shardCount)
	shards := make([]*shard, n)
	for i := range shards {
		l, err := lru.New[fingerprint.ID, int64](perShardCapacity)
		if err != nil {
			return nil, err
		}
		shards[i] = &shard{lru: l}
	}
	return &Cache{shards: shards, mask: uint64(n - 1)}, nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (c *Cache) shardFor(id fingerprint.ID) *shard {
	return c.shards[id.Hi&c.mask]
}

// Get returns the cached id for fp, if present.
func (c *Cache) Get(fp fingerprint.ID) (int64, bool) {
	s := c.shardFor(fp)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lru.Get(fp)
}

// Put records the database id resolved for fp. Called after a successful
// upsert-on-conflict-do-nothing + select-by-fingerprint round trip (§4.A).
func (c *Cache) Put(fp fingerprint.ID, id int64) {
	s := c.shardFor(fp)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(fp, id)
}

// Len returns the total number of cached entries across all shards.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		s.mu.RLock()
		total += s.lru.Len()
		s.mu.RUnlock()
	}
	return total
}

// Purge clears every shard. Only the tests call it.
func (c *Cache) Purge() {
	for _, s := range c.shards {
		s.mu.Lock()
		s.lru.Purge()
		s.mu.Unlock()
	}
}
