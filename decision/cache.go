package decision

import (
	"context"
	"sync"
	"time"
)

// PipelineCache provides an abstraction for caching pipeline configurations
// This allows swapping between in-memory, Redis, or other caching implementations
type PipelineCache interface {
	// Get returns a cached pipeline, false on a miss or expiry
	Get(id string) (*Pipeline, bool)

	// Set stores a pipeline
	Set(p *Pipeline)

	// Invalidate drops one pipeline, forcing a reload on next Get
	Invalidate(id string)
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration
}

type cachedPipeline struct {
	pipeline *Pipeline
	cachedAt time.Time
}

// InMemoryPipelineCache is a simple in-memory implementation of PipelineCache
// Thread-safe for concurrent access
type InMemoryPipelineCache struct {
	entries map[string]cachedPipeline
	config  CacheConfig
	now     func() time.Time
	mu      sync.RWMutex
}

// NewInMemoryPipelineCache creates a new in-memory pipeline cache
func NewInMemoryPipelineCache(config CacheConfig) *InMemoryPipelineCache {
	return &InMemoryPipelineCache{
		entries: make(map[string]cachedPipeline),
		config:  config,
		now:     time.Now,
	}
}

// Get returns a copy of the cached pipeline so callers cannot modify the cache
func (c *InMemoryPipelineCache) Get(id string) (*Pipeline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	// Check TTL if configured
	if c.config.TTL > 0 && c.now().Sub(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	return clonePipeline(entry.pipeline), true
}

// Set stores a copy of p
func (c *InMemoryPipelineCache) Set(p *Pipeline) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[p.ID] = cachedPipeline{pipeline: clonePipeline(p), cachedAt: c.now()}
}

// Invalidate removes one entry
func (c *InMemoryPipelineCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// CachedStore serves GetPipeline from a cache and invalidates it on SavePipeline.
// Every other call goes straight to the wrapped Store.
type CachedStore struct {
	Store
	cache PipelineCache
}

// NewCachedStore wraps store. A nil cache disables caching.
func NewCachedStore(store Store, cache PipelineCache) Store {
	if cache == nil {
		return store
	}
	return &CachedStore{Store: store, cache: cache}
}

func (s *CachedStore) GetPipeline(ctx context.Context, id string) (*Pipeline, error) {
	if p, ok := s.cache.Get(id); ok {
		return p, nil
	}
	p, err := s.Store.GetPipeline(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(p)
	return p, nil
}

func (s *CachedStore) SavePipeline(ctx context.Context, p *Pipeline) error {
	defer s.cache.Invalidate(p.ID)
	return s.Store.SavePipeline(ctx, p)
}
