package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/SylTi/saascore/pkg/dbcontext"
	"github.com/SylTi/saascore/pkg/observability"
	"github.com/SylTi/saascore/pkg/tenants"
)

const defaultTenantTTL = 5 * time.Minute

// TenantCache is a read-through Redis cache over tenant lookups. Lookups on
// a cold or broken Redis go straight to Postgres through the wrapped service.
type TenantCache struct {
	tenants *tenants.PostgresService
	redis   *redis.Client
	ttl     time.Duration
}

// NewTenantCache wraps service with a Redis cache. ttl <= 0 uses the
// default of five minutes.
func NewTenantCache(service *tenants.PostgresService, redisClient *redis.Client, ttl time.Duration) *TenantCache {
	if ttl <= 0 {
		ttl = defaultTenantTTL
	}
	return &TenantCache{tenants: service, redis: redisClient, ttl: ttl}
}

func tenantKey(id int64) string {
	return fmt.Sprintf("tenant:%d", id)
}

// GetTenant returns the cached tenant or falls through to Postgres on the
// caller's querier and fills the cache.
func (c *TenantCache) GetTenant(ctx context.Context, q dbcontext.Querier, id int64) (*tenants.Tenant, error) {
	key := tenantKey(id)

	if data, err := c.redis.Get(ctx, key).Bytes(); err == nil {
		var tenant tenants.Tenant
		if err := json.Unmarshal(data, &tenant); err == nil {
			observability.TenantCacheHits.Inc()
			return &tenant, nil
		}
		// Corrupt entry, drop it and refetch.
		c.redis.Del(ctx, key)
	}
	observability.TenantCacheMisses.Inc()

	tenant, err := c.tenants.GetTenant(ctx, q, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(tenant); err == nil {
		c.redis.Set(ctx, key, data, c.ttl)
	}
	return tenant, nil
}

// Invalidate drops a tenant's cache entry. Call after any tenant mutation,
// inside or outside the mutating transaction; the worst case of calling
// before commit is one extra cold read.
func (c *TenantCache) Invalidate(ctx context.Context, id int64) {
	c.redis.Del(ctx, tenantKey(id))
}
