package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const availabilityGenerationKey = "availability:generation"

// AvailabilityCache keeps computed availability in Redis under a generation
// counter. Bumping the counter orphans every cached entry at once; the
// orphans expire on their own TTL.
type AvailabilityCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewAvailabilityCache(client redis.Cmdable, ttl time.Duration) *AvailabilityCache {
	return &AvailabilityCache{client: client, ttl: ttl}
}

func entryKey(gen int64, key string) string {
	return fmt.Sprintf("availability:v%d:%s", gen, key)
}

func (c *AvailabilityCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, availabilityGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read availability generation: %w", err)
	}
	return gen, nil
}

func (c *AvailabilityCache) Get(ctx context.Context, gen int64, key string, dst any) (bool, error) {
	raw, err := c.client.Get(ctx, entryKey(gen, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read availability entry: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode availability entry: %w", err)
	}
	return true, nil
}

func (c *AvailabilityCache) Set(ctx context.Context, gen int64, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode availability entry: %w", err)
	}
	if err := c.client.Set(ctx, entryKey(gen, key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write availability entry: %w", err)
	}
	return nil
}

func (c *AvailabilityCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, availabilityGenerationKey).Err(); err != nil {
		return fmt.Errorf("bump availability generation: %w", err)
	}
	return nil
}
