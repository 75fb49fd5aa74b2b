// Package cache provides caching for served store files and catalog queries.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

const chunkShards = 64

// Config contains cache configuration.
type Config struct {
	ChunkCacheSizeMB  int
	ChunkTTL          time.Duration
	MaxChunkEntrySize int
	CatalogEntries    int
}

// Manager manages the chunk file cache and the catalog query cache.
type Manager struct {
	chunkCache   *bigcache.BigCache
	catalogCache *lru.Cache[string, []byte]
	maxEntry     int
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.ChunkTTL <= 0 {
		cfg.ChunkTTL = 10 * time.Minute
	}
	if cfg.MaxChunkEntrySize <= 0 {
		cfg.MaxChunkEntrySize = 4 << 20
	}
	if cfg.CatalogEntries <= 0 {
		cfg.CatalogEntries = 256
	}

	if cfg.ChunkCacheSizeMB > 0 {
		// An entry must fit in a single shard.
		shardBytes := cfg.ChunkCacheSizeMB << 20 / chunkShards
		cfg.MaxChunkEntrySize = min(cfg.MaxChunkEntrySize, shardBytes/2)
	}

	chunkCacheConfig := bigcache.Config{
		Shards:             chunkShards,
		LifeWindow:         cfg.ChunkTTL,
		CleanWindow:        cfg.ChunkTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       cfg.MaxChunkEntrySize,
		HardMaxCacheSize:   cfg.ChunkCacheSizeMB,
		Verbose:            false,
	}

	chunkCache, err := bigcache.New(context.Background(), chunkCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create chunk cache: %w", err)
	}

	catalogCache, err := lru.New[string, []byte](cfg.CatalogEntries)
	if err != nil {
		chunkCache.Close()
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}

	return &Manager{
		chunkCache:   chunkCache,
		catalogCache: catalogCache,
		maxEntry:     cfg.MaxChunkEntrySize,
	}, nil
}

// GetChunk retrieves a store file from cache.
func (m *Manager) GetChunk(key string) ([]byte, bool) {
	data, err := m.chunkCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetChunk stores a file in cache. Entries larger than the configured
// maximum are skipped.
func (m *Manager) SetChunk(key string, data []byte) error {
	if len(data) > m.maxEntry {
		return nil
	}
	return m.chunkCache.Set(key, data)
}

// GetCatalog retrieves a catalog response from cache.
func (m *Manager) GetCatalog(key string) ([]byte, bool) {
	return m.catalogCache.Get(key)
}

// SetCatalog stores a catalog response in cache.
func (m *Manager) SetCatalog(key string, data []byte) {
	m.catalogCache.Add(key, data)
}

// ChunkKey generates a cache key for a file inside a store. The version
// changes whenever the store is rewritten, so replaced stores never serve
// stale bytes.
func ChunkKey(store, version, rel string) string {
	return fmt.Sprintf("chunk:%s@%s/%s", store, version, rel)
}

// CatalogKey generates a cache key for a catalog query.
func CatalogKey(kind, name, version string) string {
	if name == "" {
		return fmt.Sprintf("%s@%s", kind, version)
	}
	return fmt.Sprintf("%s:%s@%s", kind, name, version)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	stats := m.chunkCache.Stats()
	return map[string]interface{}{
		"chunk_cache_len":    m.chunkCache.Len(),
		"chunk_cache_cap":    m.chunkCache.Capacity(),
		"chunk_cache_hits":   stats.Hits,
		"chunk_cache_misses": stats.Misses,
		"catalog_cache_len":  m.catalogCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.chunkCache.Close()
}
