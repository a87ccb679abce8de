package codeobject

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const DefaultCacheSize = 64

// Cache keeps parsed symbol tables keyed by code object path.
type Cache struct {
	mu   sync.Mutex
	lru  *simplelru.LRU[string, *Symbols]
	load func(string) (*Symbols, error)
}

func NewCache(size int) (*Cache, error) {
	return NewCacheWithLoader(size, Load)
}

func NewCacheWithLoader(size int, load func(string) (*Symbols, error)) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	lru, err := simplelru.NewLRU[string, *Symbols](size, nil)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: lru, load: load}, nil
}

func (c *Cache) Get(path string) (*Symbols, error) {
	s, _, err := c.GetWithHit(path)
	return s, err
}

// GetWithHit also reports whether path was already cached.
func (c *Cache) GetWithHit(path string) (*Symbols, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.lru.Get(path); ok {
		return s, true, nil
	}
	s, err := c.load(path)
	if err != nil {
		return nil, false, err
	}
	c.lru.Add(path, s)
	return s, false, nil
}

// Evict drops path, typically because its code object was unloaded.
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	c.lru.Remove(path)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
