package tablespace

import (
	lru "github.com/hashicorp/golang-lru"
)

// Cache holds parsed Options of tablespaces, keyed on tablespace ID.
// Entries are invalidated when a tablespace is altered or dropped.
type Cache struct {
	cache *lru.Cache
}

// NewCache returns a Cache of the given size, which must be > 0.
func NewCache(size int) *Cache {
	var cache, err = lru.New(size)
	if err != nil {
		panic(err.Error()) // Only errors on size <= 0.
	}
	return &Cache{cache: cache}
}

// Get returns cached Options of tablespace |id|, or invokes |load| to parse
// and cache them.
func (c *Cache) Get(id uint32, load func() (Options, error)) (Options, error) {
	if v, ok := c.cache.Get(id); ok {
		return v.(Options), nil
	}
	var opts, err = load()
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, opts)
	return opts, nil
}

// Invalidate removes tablespace |id|, returning whether it was cached.
func (c *Cache) Invalidate(id uint32) bool { return c.cache.Remove(id) }

// Len returns the number of cached tablespaces.
func (c *Cache) Len() int { return c.cache.Len() }
