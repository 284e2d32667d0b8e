package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// AvailabilityCache keeps per-title availability in Redis so dashboard and
// circulation-desk reads do not hit the titles table. Entries are invalidated
// on every issue, return and copy adjustment.
type AvailabilityCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAvailabilityCache instantiates the cache helper.
func NewAvailabilityCache(client *redis.Client, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func availabilityKey(titleID int64) string {
	return fmt.Sprintf("catalog:availability:%d", titleID)
}

// Fetch loads a cached availability or populates it using the loader.
func (c *AvailabilityCache) Fetch(ctx context.Context, titleID int64, loader func(context.Context) (Availability, error)) (Availability, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := availabilityKey(titleID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var av Availability
		if err := json.Unmarshal(payload, &av); err == nil {
			return av, nil
		}
		// Corrupt entry, fall through to the loader.
	} else if err != redis.Nil {
		return Availability{}, err
	}
	av, err := loader(ctx)
	if err != nil {
		return Availability{}, err
	}
	raw, err := json.Marshal(av)
	if err != nil {
		return Availability{}, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Availability{}, err
	}
	return av, nil
}

// Invalidate drops the cached entry for a title.
func (c *AvailabilityCache) Invalidate(ctx context.Context, titleID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, availabilityKey(titleID)).Err()
}
