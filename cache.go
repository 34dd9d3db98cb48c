package smbstore

import (
	"io/fs"
	"path"
	"strings"
	"sync"
	"time"
)

// CacheConfig configures the transport's metadata cache.
type CacheConfig struct {
	// EnableCache enables metadata caching. Default: false for safety.
	EnableCache bool

	// DirCacheTTL is the time-to-live for directory listings.
	// Default: 5 seconds.
	DirCacheTTL time.Duration

	// StatCacheTTL is the time-to-live for stat results.
	// Default: 5 seconds.
	StatCacheTTL time.Duration

	// MaxCacheEntries is the maximum number of cache entries.
	// When exceeded, oldest entries are evicted. Default: 1000.
	MaxCacheEntries int
}

// DefaultCacheConfig returns a cache configuration with reasonable defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		EnableCache:     false,
		DirCacheTTL:     5 * time.Second,
		StatCacheTTL:    5 * time.Second,
		MaxCacheEntries: 1000,
	}
}

// metadataCache caches stat results and directory listings of one share,
// keyed by share-relative path.
type metadataCache struct {
	mu          sync.RWMutex
	config      CacheConfig
	dirCache    map[string]*dirCacheEntry
	statCache   map[string]*statCacheEntry
	accessOrder []string // LRU tracking
	enabled     bool
}

type dirCacheEntry struct {
	entries  []fs.FileInfo
	cachedAt time.Time
}

type statCacheEntry struct {
	info     fs.FileInfo
	cachedAt time.Time
}

// newMetadataCache creates a new metadata cache with the given configuration.
func newMetadataCache(config CacheConfig) *metadataCache {
	if config.MaxCacheEntries == 0 {
		config.MaxCacheEntries = 1000
	}
	if config.DirCacheTTL == 0 {
		config.DirCacheTTL = 5 * time.Second
	}
	if config.StatCacheTTL == 0 {
		config.StatCacheTTL = 5 * time.Second
	}

	return &metadataCache{
		config:      config,
		dirCache:    make(map[string]*dirCacheEntry),
		statCache:   make(map[string]*statCacheEntry),
		accessOrder: make([]string, 0, config.MaxCacheEntries),
		enabled:     config.EnableCache,
	}
}

// getDirEntries retrieves a cached listing if available and not expired.
func (c *metadataCache) getDirEntries(p string) ([]fs.FileInfo, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.dirCache[p]
	if !ok || time.Since(entry.cachedAt) > c.config.DirCacheTTL {
		return nil, false
	}
	return entry.entries, true
}

// putDirEntries stores a directory listing in the cache.
func (c *metadataCache) putDirEntries(p string, entries []fs.FileInfo) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dirCache[p] = &dirCacheEntry{
		entries:  entries,
		cachedAt: time.Now(),
	}

	c.trackAccess(p)
	c.evictIfNeeded()
}

// getStatInfo retrieves cached file info if available and not expired.
func (c *metadataCache) getStatInfo(p string) (fs.FileInfo, bool) {
	if !c.enabled {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.statCache[p]
	if !ok || time.Since(entry.cachedAt) > c.config.StatCacheTTL {
		return nil, false
	}
	return entry.info, true
}

// putStatInfo stores file info in the cache.
func (c *metadataCache) putStatInfo(p string, info fs.FileInfo) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.statCache[p] = &statCacheEntry{
		info:     info,
		cachedAt: time.Now(),
	}

	c.trackAccess(p)
	c.evictIfNeeded()
}

// invalidate removes cache entries for a path and the listing of its
// parent directory. It must be called after any write operation.
func (c *metadataCache) invalidate(p string) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.dirCache, p)
	delete(c.statCache, p)
	delete(c.dirCache, path.Dir(p))
}

// invalidateTree removes cache entries for p, everything below it and the
// listing of its parent directory.
func (c *metadataCache) invalidateTree(p string) {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := strings.TrimSuffix(p, "/") + "/"
	for k := range c.dirCache {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(c.dirCache, k)
		}
	}
	for k := range c.statCache {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(c.statCache, k)
		}
	}
	delete(c.dirCache, path.Dir(p))
}

// trackAccess tracks access order for LRU eviction.
func (c *metadataCache) trackAccess(p string) {
	for i, q := range c.accessOrder {
		if q == p {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, p)
}

// evictIfNeeded evicts oldest entries if cache is full.
func (c *metadataCache) evictIfNeeded() {
	total := len(c.dirCache) + len(c.statCache)
	for total > c.config.MaxCacheEntries && len(c.accessOrder) > 0 {
		oldest := c.accessOrder[0]
		c.accessOrder = c.accessOrder[1:]

		delete(c.dirCache, oldest)
		delete(c.statCache, oldest)
		total = len(c.dirCache) + len(c.statCache)
	}
}
