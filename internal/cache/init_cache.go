package cache

import (
	"sync"

	"abrstream/internal/logger"
)

// InitCache is a thread-safe, in-memory cache for initialization segments,
// keyed by representation id. Entries are never evicted: the cache is bounded
// by the number of distinct representations used in a session, and payloads
// for the same key are content-identical, so last-writer-wins is fine.
type InitCache struct {
	mutex  sync.RWMutex
	cache  map[string][]byte
	logger logger.Logger
}

// New creates and returns a new InitCache.
func New(log logger.Logger) *InitCache {
	return &InitCache{
		cache:  make(map[string][]byte),
		logger: log,
	}
}

// Set stores the initialization payload for a representation.
func (c *InitCache) Set(repID string, data []byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[repID] = data
	c.logger.Debugf("Cached init segment for representation %s, size: %d bytes", repID, len(data))
}

// Get retrieves the initialization payload for a representation.
func (c *InitCache) Get(repID string) ([]byte, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	data, found := c.cache[repID]
	return data, found
}

// Len reports the number of cached representations.
func (c *InitCache) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}
