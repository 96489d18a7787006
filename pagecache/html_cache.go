package pagecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// HTMLCache memoizes decoded HTML by lookup key.
type HTMLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, html string) error
}

const redisKeyPrefix = "pagehtml:"

// RedisHTMLCache keeps decoded HTML in Redis with a fixed TTL.
type RedisHTMLCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisHTMLCache(client *redis.Client, ttl time.Duration) *RedisHTMLCache {
	return &RedisHTMLCache{client: client, ttl: ttl}
}

func (c *RedisHTMLCache) Get(ctx context.Context, key string) (string, bool, error) {
	html, err := c.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return html, true, nil
}

func (c *RedisHTMLCache) Set(ctx context.Context, key, html string) error {
	if err := c.client.Set(ctx, redisKeyPrefix+key, html, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
