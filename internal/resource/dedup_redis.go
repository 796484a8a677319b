package resource

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisDedupCache is the optional go-redis backed implementation of
// dedupCache (pkg/config RedisConfig). It is advisory only: losing the
// claim (TTL expiry, eviction, connection loss) never invalidates a live
// local instance, it only stops other processes' tooling from seeing this
// one as the current owner.
type RedisDedupCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedupCache returns a cache backed by client with claims expiring
// after ttl (refreshed implicitly by InstanceRegistry.Get's access churn is
// out of scope here; ttl just bounds how long a stale claim lingers after a
// process crash without calling Release).
func NewRedisDedupCache(client *redis.Client, ttl time.Duration) *RedisDedupCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDedupCache{client: client, ttl: ttl}
}

// Claim implements dedupCache.
func (c *RedisDedupCache) Claim(ctx context.Context, key, owner string) error {
	return c.client.Set(ctx, "reactive-streams:instance:"+key, owner, c.ttl).Err()
}

// Release implements dedupCache.
func (c *RedisDedupCache) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, "reactive-streams:instance:"+key).Err()
}
