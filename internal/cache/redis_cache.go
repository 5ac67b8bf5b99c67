package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const defaultNamespace = "kfe:reports"

// RedisReportCache namespaces every key with a generation counter. Bumping
// the counter orphans old entries, which then expire on their TTL.
type RedisReportCache struct {
	client    *redis.Client
	namespace string
}

func NewRedisReportCache(addr string, password string, db int) *RedisReportCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisReportCache{client: client, namespace: defaultNamespace}
}

func (c *RedisReportCache) WithNamespace(namespace string) *RedisReportCache {
	return &RedisReportCache{client: c.client, namespace: namespace}
}

func (c *RedisReportCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisReportCache) Close() error {
	return c.client.Close()
}

func (c *RedisReportCache) Get(ctx context.Context, key string, dest any) (Slot, error) {
	fullKey, err := c.key(ctx, key)
	if err != nil {
		return Slot{}, err
	}
	slot := Slot{Key: fullKey}
	val, err := c.client.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return slot, nil
	}
	if err != nil {
		return slot, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return slot, err
	}
	slot.Hit = true
	return slot, nil
}

// Set writes under the generation captured by Get. A slot without a key
// (a failed Get) is skipped.
func (c *RedisReportCache) Set(ctx context.Context, slot Slot, value any, ttl time.Duration) error {
	if value == nil || slot.Key == "" {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, slot.Key, payload, ttl).Err()
}

func (c *RedisReportCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, c.generationKey()).Err()
}

func (c *RedisReportCache) key(ctx context.Context, key string) (string, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Result()
	if errors.Is(err, redis.Nil) {
		gen = "0"
	} else if err != nil {
		return "", err
	}
	return c.namespace + ":" + gen + ":" + key, nil
}

func (c *RedisReportCache) generationKey() string {
	return c.namespace + ":gen"
}
