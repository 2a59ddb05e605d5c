package search

import (
	"context"
	"log/slog"
	"time"

	"MorningCall/internal/cache"
)

// Cached memoizes a provider's responses per normalized query
type Cached struct {
	next   Provider
	cache  *cache.Cache[*Response]
	logger *slog.Logger
}

// NewCached wraps next; responses are reused for ttl
func NewCached(next Provider, ttl time.Duration, logger *slog.Logger) *Cached {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cached{next: next, cache: cache.New[*Response](ttl), logger: logger}
}

func (c *Cached) Search(ctx context.Context, query string) (*Response, error) {
	key := cache.GenerateKey(query)
	if resp, ok := c.cache.Load(key); ok {
		c.logger.Info("search cache hit", "key", key[:16])
		return resp, nil
	}

	resp, err := c.next.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	c.cache.Store(key, resp)
	return resp, nil
}
