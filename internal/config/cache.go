package config

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache memoises loaded configurations by path. Entries stay until they are
// invalidated; edits to a file are not picked up automatically.
type Cache struct {
	lru *lru.Cache[string, *Config]
}

// NewCache returns a cache holding up to size configurations.
func NewCache(size int) (*Cache, error) {
	l, err := lru.New[string, *Config](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Load returns the cached configuration for path, loading it on a miss.
// Failed loads are not cached.
func (c *Cache) Load(path string) (*Config, error) {
	if cfg, ok := c.lru.Get(path); ok {
		return cfg, nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.lru.Add(path, cfg)
	return cfg, nil
}

// Invalidate forgets path.
func (c *Cache) Invalidate(path string) {
	c.lru.Remove(path)
}

// Purge forgets every path.
func (c *Cache) Purge() {
	c.lru.Purge()
}
