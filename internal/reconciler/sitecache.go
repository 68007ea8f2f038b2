package reconciler

import "sync"

// SiteCache maps site names to remote site IDs for the lifetime of a Reconciler.
type SiteCache struct {
	mu    sync.RWMutex
	sites map[string]int
}

// NewSiteCache returns an empty SiteCache.
func NewSiteCache() *SiteCache {
	return &SiteCache{sites: map[string]int{}}
}

// Get returns the cached site ID for the name.
func (c *SiteCache) Get(name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.sites[name]

	return id, ok
}

// Set caches the site ID for the name.
func (c *SiteCache) Set(name string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sites[name] = id
}

// Len returns the number of cached site names.
func (c *SiteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.sites)
}
