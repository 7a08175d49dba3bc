package selection

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/heapflame/heapflame/internal/callsite"
)

// Cache is a Fetcher keeping the callsites of recently fetched selections.
// Concurrent fetches of the same selection share a single call to the
// underlying Fetcher.
type Cache struct {
	fetcher Fetcher
	group   singleflight.Group
	items   *lru.Cache[Key, []callsite.Callsite]

	mu sync.Mutex
	// generation is bumped by every Invalidate. A fetch only keeps its
	// callsites if no invalidation happened while it was running.
	generation uint64
}

func NewCache(fetcher Fetcher, size int) (*Cache, error) {
	items, err := lru.New[Key, []callsite.Callsite](size)
	if err != nil {
		return nil, err
	}
	return &Cache{fetcher: fetcher, items: items}, nil
}

// Fetch returns the cached callsites of key, fetching them if needed. The
// returned slice is shared and must not be modified.
func (c *Cache) Fetch(ctx context.Context, key Key) ([]callsite.Callsite, error) {
	if callsites, ok := c.items.Get(key); ok {
		return callsites, nil
	}
	v, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		// The previous call for key may have completed since the lookup above.
		if callsites, ok := c.items.Get(key); ok {
			return callsites, nil
		}
		c.mu.Lock()
		generation := c.generation
		c.mu.Unlock()

		callsites, err := c.fetcher.Fetch(ctx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation == generation {
			c.items.Add(key, callsites)
		}
		return callsites, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]callsite.Callsite), nil
}

// Invalidate drops the callsites kept for key. Fetches of key already in
// flight are not kept and later fetches don't wait on them.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.items.Remove(key)
	c.group.Forget(key.String())
}

func (c *Cache) Len() int {
	return c.items.Len()
}
