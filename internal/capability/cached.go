package capability

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cached wraps a Registry with an LRU of recent lookups. Platform round trips
// dominate refinement latency; the snapshot is cheap to keep.
type Cached struct {
	origin Registry
	cache  *lru.Cache[string, Capabilities]
}

func NewCached(origin Registry, size int) (*Cached, error) {
	if size <= 0 {
		size = 512
	}
	c, err := lru.New[string, Capabilities](size)
	if err != nil {
		return nil, err
	}
	return &Cached{origin: origin, cache: c}, nil
}

func (c *Cached) Lookup(ctx context.Context, entityID string) (Capabilities, bool, error) {
	key := strings.TrimSpace(entityID)
	if hit, ok := c.cache.Get(key); ok {
		return hit, true, nil
	}
	caps, ok, err := c.origin.Lookup(ctx, key)
	if err != nil || !ok {
		return Capabilities{}, ok, err
	}
	c.cache.Add(key, caps)
	return caps, true, nil
}

func (c *Cached) List(ctx context.Context) ([]Capabilities, error) {
	caps, err := c.origin.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, cp := range caps {
		c.cache.Add(cp.EntityID, cp)
	}
	return caps, nil
}

// Invalidate drops one entity from the cache, e.g. after a state change
// event reports new attributes.
func (c *Cached) Invalidate(entityID string) {
	c.cache.Remove(strings.TrimSpace(entityID))
}
