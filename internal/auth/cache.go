package auth

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type cachedResult struct {
	rank int
	ok   bool
}

// CachedResolver memoizes resolutions. Misses are cached for a shorter time
// so a freshly granted token becomes usable quickly.
type CachedResolver struct {
	inner   Resolver
	cache   *gocache.Cache
	hitTTL  time.Duration
	missTTL time.Duration
}

func NewCachedResolver(inner Resolver, hitTTL, missTTL time.Duration) *CachedResolver {
	return &CachedResolver{
		inner:   inner,
		cache:   gocache.New(hitTTL, 2*hitTTL),
		hitTTL:  hitTTL,
		missTTL: missTTL,
	}
}

func (c *CachedResolver) Resolve(ctx context.Context, key, secret string) (int, bool, error) {
	ck := key + "\x00" + HashSecret(secret)
	if v, found := c.cache.Get(ck); found {
		r := v.(cachedResult)
		return r.rank, r.ok, nil
	}
	rank, ok, err := c.inner.Resolve(ctx, key, secret)
	if err != nil {
		return 0, false, err
	}
	ttl := c.hitTTL
	if !ok {
		ttl = c.missTTL
	}
	c.cache.Set(ck, cachedResult{rank: rank, ok: ok}, ttl)
	return rank, ok, nil
}

// Invalidate drops every memoized result.
func (c *CachedResolver) Invalidate() {
	c.cache.Flush()
}
