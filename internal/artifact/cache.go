package artifact

import (
	"context"

	"email-classifier/internal/estimator"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey struct {
	location string
	ref      Ref
}

type cached struct {
	pipeline *estimator.Pipeline
	meta     *Metadata
}

// Cache memoises loaded artifacts by store location and Ref. Loaded pipelines
// are read-only, so one instance is shared by every caller.
type Cache struct {
	lru *lru.Cache[cacheKey, cached]
}

// NewCache returns a cache holding up to size artifacts.
func NewCache(size int) (*Cache, error) {
	l, err := lru.New[cacheKey, cached](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Load returns the cached artifact or loads it from store.
func (c *Cache) Load(ctx context.Context, store Store, ref Ref) (*estimator.Pipeline, *Metadata, error) {
	key := cacheKey{location: store.Location(), ref: ref}
	if v, ok := c.lru.Get(key); ok {
		return v.pipeline, v.meta, nil
	}
	p, meta, err := store.Load(ctx, ref)
	if err != nil {
		return nil, nil, err
	}
	c.lru.Add(key, cached{pipeline: p, meta: meta})
	return p, meta, nil
}

// Invalidate drops ref from every store location so the next Load reads the
// store again.
func (c *Cache) Invalidate(ref Ref) {
	for _, k := range c.lru.Keys() {
		if k.ref == ref {
			c.lru.Remove(k)
		}
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len is the number of cached artifacts.
func (c *Cache) Len() int {
	return c.lru.Len()
}
