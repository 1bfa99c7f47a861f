package search

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/infrastructure/logging"
)

const redisKeyPrefix = "browserd:search:"

// RedisCache shares search results across replicas. Constructed only when a
// Redis address is configured; lookups degrade to misses on connection
// errors so a Redis outage never breaks search.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisCache connects to Redis and returns a cache over it.
func NewRedisCache(addr string, ttl time.Duration, logger *logging.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		logger: logger.Named("search-cache"),
	}
}

// Get reads a cached list; any error reads as a miss.
func (c *RedisCache) Get(key string) ([]Opportunity, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := c.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("redis get failed", zap.Error(err))
		}
		return nil, false
	}

	var records []Opportunity
	if err := json.Unmarshal(data, &records); err != nil {
		c.logger.Warn("corrupt cache entry dropped", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return records, true
}

// Set stores a list with the cache TTL; failures are logged and ignored.
func (c *RedisCache) Set(key string, records []Opportunity) {
	data, err := json.Marshal(records)
	if err != nil {
		c.logger.Warn("failed to encode cache entry", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.client.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("redis set failed", zap.Error(err))
	}
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
