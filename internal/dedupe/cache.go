// ABOUTME: Thread-safe TTL cache for dropping redelivered gateway messages.
// ABOUTME: Backed by an expirable LRU so memory stays bounded on busy shards.

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache tracks recently seen message ids. Entries expire after the TTL and
// the oldest are evicted once maxSize is reached.
type Cache struct {
	mu   sync.Mutex // makes CheckAndMark atomic
	seen *expirable.LRU[string, struct{}]
}

// New creates a cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen: expirable.NewLRU[string, struct{}](maxSize, nil, ttl),
	}
}

// CheckAndMark reports whether key was already seen, marking it if it was
// not. The check and the mark happen under one lock.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seen.Contains(key) {
		return true
	}
	c.seen.Add(key, struct{}{})
	return false
}
