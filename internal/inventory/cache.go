package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores products in Redis as JSON.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func productKey(id int64) string {
	return fmt.Sprintf("catalog:product:%d", id)
}

// Get returns the cached product and whether it was present.
func (c *Cache) Get(ctx context.Context, id int64) (Product, bool, error) {
	if c == nil || c.client == nil {
		return Product{}, false, nil
	}
	raw, err := c.client.Get(ctx, productKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Product{}, false, nil
	}
	if err != nil {
		return Product{}, false, err
	}
	var p Product
	if err := json.Unmarshal(raw, &p); err != nil {
		// corrupt entry, drop it and treat as a miss
		_ = c.client.Del(ctx, productKey(id)).Err()
		return Product{}, false, nil
	}
	return p, true, nil
}

// Set stores the product with the configured TTL.
func (c *Cache) Set(ctx context.Context, p Product) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, productKey(p.ID), raw, c.ttl).Err()
}

// Invalidate drops the cached product.
func (c *Cache) Invalidate(ctx context.Context, id int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, productKey(id)).Err()
}
