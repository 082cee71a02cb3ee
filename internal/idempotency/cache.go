package idempotency

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache remembers processed notification ids so redeliveries can be
// answered without opening a transaction. It is never authoritative.
type Cache interface {
	Seen(ctx context.Context, notificationID string) (bool, error)
	Remember(ctx context.Context, notificationID string) error
}

const keyPrefix = "processed_notification:"

type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisCache{Client: client, TTL: ttl}
}

func (c *RedisCache) Seen(ctx context.Context, notificationID string) (bool, error) {
	n, err := c.Client.Exists(ctx, keyPrefix+notificationID).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisCache) Remember(ctx context.Context, notificationID string) error {
	return c.Client.Set(ctx, keyPrefix+notificationID, time.Now().UTC().Format(time.RFC3339), c.TTL).Err()
}

// NopCache is used when Redis is disabled.
type NopCache struct{}

func (NopCache) Seen(context.Context, string) (bool, error) { return false, nil }
func (NopCache) Remember(context.Context, string) error     { return nil }
