package registry

import (
	"context"
	"strconv"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL bounds how long a resolution is reused.
const DefaultTTL = time.Hour

// Cached memoizes a Resolver. Concurrent misses for the same file share one
// upstream call. Errors are not cached.
type Cached struct {
	next  Resolver
	cache *ttlcache.Cache[string, ModFile]
	group singleflight.Group
}

func NewCached(next Resolver, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{
		next: next,
		cache: ttlcache.New[string, ModFile](
			ttlcache.WithTTL[string, ModFile](ttl),
			ttlcache.WithDisableTouchOnHit[string, ModFile](),
		),
	}
}

func cacheKey(projectID, fileID int) string {
	return strconv.Itoa(projectID) + "/" + strconv.Itoa(fileID)
}

func (c *Cached) Resolve(ctx context.Context, projectID, fileID int) (ModFile, error) {
	key := cacheKey(projectID, fileID)
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if item := c.cache.Get(key); item != nil {
			return item.Value(), nil
		}
		mf, err := c.next.Resolve(ctx, projectID, fileID)
		if err != nil {
			return ModFile{}, err
		}
		c.cache.Set(key, mf, ttlcache.DefaultTTL)
		return mf, nil
	})
	if err != nil {
		return ModFile{}, err
	}
	return v.(ModFile), nil
}

// Len reports the number of cached resolutions.
func (c *Cached) Len() int { return c.cache.Len() }
