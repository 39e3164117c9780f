package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "catalog:version"

// Cache wraps Redis helpers for JSON payloads. List entries are keyed by a
// version counter so a single bump invalidates every cached page.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Version returns the current list generation.
func (c *Cache) Version(ctx context.Context) string {
	if c == nil || c.client == nil {
		return "0"
	}
	v, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(v, 10)
}

// Invalidate drops the detail entries for ids and retires all cached list pages.
func (c *Cache) Invalidate(ctx context.Context, ids ...string) error {
	if c == nil || c.client == nil {
		return nil
	}
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, cacheVersionKey)
	for _, id := range ids {
		pipe.Del(ctx, detailCacheKey(id))
	}
	_, err := pipe.Exec(ctx)
	return err
}

func detailCacheKey(id string) string {
	return "catalog:listing:" + id
}
