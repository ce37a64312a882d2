package dataset

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"contactnet/internal/model"
)

// CachedProvider keeps recently decoded examples in an LRU cache so that
// repeated epochs over a small selection do not hit the backing store.
type CachedProvider struct {
	Provider
	cache *lru.Cache
}

func NewCachedProvider(p Provider, size int) (*CachedProvider, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedProvider{Provider: p, cache: cache}, nil
}

func (c *CachedProvider) Example(ctx context.Context, i int) (model.Example, error) {
	if v, ok := c.cache.Get(i); ok {
		return v.(model.Example), nil
	}
	example, err := c.Provider.Example(ctx, i)
	if err != nil {
		return model.Example{}, err
	}
	c.cache.Add(i, example)
	return example, nil
}

// Close closes the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return Close(c.Provider)
}
