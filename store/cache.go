package store

import (
	"time"

	"github.com/ethereum/go-ethereum/common/lru"
)

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// ttlCache bounds hot reads in both directions: LRU caps the entry count,
// the TTL caps staleness. An entry past its deadline reads as a miss and
// is evicted on the spot.
type ttlCache[V any] struct {
	cache *lru.Cache[string, ttlEntry[V]]
	ttl   time.Duration
}

func newTTLCache[V any](capacity int, ttl time.Duration) *ttlCache[V] {
	return &ttlCache[V]{
		cache: lru.NewCache[string, ttlEntry[V]](capacity),
		ttl:   ttl,
	}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	entry, ok := c.cache.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if time.Now().After(entry.expiresAt) {
		c.cache.Remove(key)
		var zero V
		return zero, false
	}
	return entry.value, true
}

func (c *ttlCache[V]) add(key string, value V) {
	c.cache.Add(key, ttlEntry[V]{value: value, expiresAt: time.Now().Add(c.ttl)})
}

func (c *ttlCache[V]) remove(key string) bool {
	return c.cache.Remove(key)
}
