package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

// DefaultTTL bounds how long a run's counters live in Redis.
const DefaultTTL = 24 * time.Hour

type redisCommands interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisCounter keeps breaker counters in Redis so every worker process
// shares them.
type RedisCounter struct {
	rdb redisCommands
	ttl time.Duration
}

// NewRedisCounter wraps a Redis client.
func NewRedisCounter(rdb redisCommands, ttl time.Duration) *RedisCounter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCounter{rdb: rdb, ttl: ttl}
}

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// SourceFailures implements Counter. A missing key reads as zero.
func (c *RedisCounter) SourceFailures(ctx context.Context, runID string, source ingest.Source) (int, error) {
	n, err := c.rdb.Get(ctx, counterKey(runID, source)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return n, nil
}

// IncrementSourceFailures implements Counter. The key expires ttl after its
// first increment.
func (c *RedisCounter) IncrementSourceFailures(ctx context.Context, runID string, source ingest.Source) (int, error) {
	key := counterKey(runID, source)
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	if n == 1 {
		if err := c.rdb.Expire(ctx, key, c.ttl).Err(); err != nil {
			return int(n), fmt.Errorf("redis expire: %w", err)
		}
	}
	return int(n), nil
}

func counterKey(runID string, source ingest.Source) string {
	return "breaker:" + runID + ":" + string(source)
}
