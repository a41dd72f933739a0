package density

import (
	"sync"

	"github.com/dm-vev/voxelterrain/terrain/voxel"
	lru "github.com/hashicorp/golang-lru/v2"
)

// CacheKey identifies a generated grid.
type CacheKey struct {
	Pos voxel.ChunkPos
	LOD int
	// Fingerprint is the fingerprint of the noise parameters the grid was
	// generated with.
	Fingerprint uint64
}

// Cache holds previously generated grids so that a chunk moving between
// levels of detail, or being unloaded and loaded again, need not be sampled
// again. Implementations must be safe for concurrent use.
type Cache interface {
	Get(k CacheKey) (*voxel.Grid, bool)
	Put(k CacheKey, g *voxel.Grid)
	// Invalidate drops all grids of the chunk at pos.
	Invalidate(pos voxel.ChunkPos)
}

// NopCache is a Cache that holds nothing.
type NopCache struct{}

func (NopCache) Get(CacheKey) (*voxel.Grid, bool) { return nil, false }
func (NopCache) Put(CacheKey, *voxel.Grid)        {}
func (NopCache) Invalidate(voxel.ChunkPos)        {}

// MemoryCache is a Cache holding up to a fixed number of grids in memory,
// dropping the least recently used grid when full.
type MemoryCache struct {
	mu    sync.Mutex
	grids *lru.Cache[CacheKey, *voxel.Grid]
	// keys indexes the keys held per chunk, so that Invalidate need not scan
	// the whole cache.
	keys map[voxel.ChunkPos]map[CacheKey]struct{}
}

// NewMemoryCache returns a MemoryCache holding at most size grids.
func NewMemoryCache(size int) *MemoryCache {
	c := &MemoryCache{keys: make(map[voxel.ChunkPos]map[CacheKey]struct{})}
	// NewWithEvict only fails for a size below 1.
	c.grids, _ = lru.NewWithEvict(max(size, 1), c.evicted)
	return c
}

// Get ...
func (c *MemoryCache) Get(k CacheKey) (*voxel.Grid, bool) {
	return c.grids.Get(k)
}

// Put ...
func (c *MemoryCache) Put(k CacheKey, g *voxel.Grid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grids.Add(k, g)
	keys, ok := c.keys[k.Pos]
	if !ok {
		keys = make(map[CacheKey]struct{}, 1)
		c.keys[k.Pos] = keys
	}
	keys[k] = struct{}{}
}

// Invalidate ...
func (c *MemoryCache) Invalidate(pos voxel.ChunkPos) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.keys[pos]
	delete(c.keys, pos)
	for k := range keys {
		c.grids.Remove(k)
	}
}

// evicted removes a key dropped from the LRU from the index. It is called
// from Put and Invalidate, with c.mu held.
func (c *MemoryCache) evicted(k CacheKey, _ *voxel.Grid) {
	keys, ok := c.keys[k.Pos]
	if !ok {
		return
	}
	delete(keys, k)
	if len(keys) == 0 {
		delete(c.keys, k.Pos)
	}
}

// Len returns the number of grids held.
func (c *MemoryCache) Len() int {
	return c.grids.Len()
}
