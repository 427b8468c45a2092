package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisCache stores entries in Redis under "<prefix>:<key>" with SETEX.
type RedisCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	log    *logrus.Entry
}

// NewRedisCache wraps an existing client.  A non-positive ttl falls back
// to one hour.
func NewRedisCache(rdb *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if prefix == "" {
		prefix = "cache"
	}
	return &RedisCache{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		log:    logrus.WithField("component", "redis-cache"),
	}
}

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	bs, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("key", key).Warn("cache get failed")
		}
		return nil, false
	}
	return bs, true
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte) {
	if err := c.rdb.SetEx(ctx, c.key(key), val, c.ttl).Err(); err != nil {
		c.log.WithError(err).WithField("key", key).Warn("cache set failed")
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		c.log.WithError(err).WithField("keys", keys).Error("cache invalidate failed")
	}
}

// Flush deletes every key under the cache prefix.  It walks the keyspace
// with SCAN so that it never blocks the server.
func (c *RedisCache) Flush(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.prefix+":*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (c *RedisCache) Close() error { return c.rdb.Close() }
