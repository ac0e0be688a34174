package delivery

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// FailureCounter tracks delivery failures per URL for operator
// visibility only. Per SPEC_FULL.md §4, it never feeds back into
// delivery behavior: no retry, no auto-unsubscribe.
type FailureCounter interface {
	Incr(ctx context.Context, url string) error
	Count(ctx context.Context, url string) (int64, error)
}

const failureCounterTTL = time.Hour

// RedisFailureCounter is a FailureCounter backed by Redis, modeled on
// the pack's redis-client usage for short-lived counters.
type RedisFailureCounter struct {
	client *redis.Client
}

// NewRedisFailureCounter connects to addr.
func NewRedisFailureCounter(addr string) *RedisFailureCounter {
	return &RedisFailureCounter{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func counterKey(url string) string {
	return "lti:delivery:failures:" + url
}

// Incr increments the failure counter for url and (re)sets its TTL.
func (c *RedisFailureCounter) Incr(ctx context.Context, url string) error {
	key := counterKey(url)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, failureCounterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Count returns the current failure count for url.
func (c *RedisFailureCounter) Count(ctx context.Context, url string) (int64, error) {
	n, err := c.client.Get(ctx, counterKey(url)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Close releases the Redis client.
func (c *RedisFailureCounter) Close() error {
	return c.client.Close()
}

// NoopFailureCounter discards every increment. Used when --redis-addr
// is empty.
type NoopFailureCounter struct{}

func (NoopFailureCounter) Incr(ctx context.Context, url string) error          { return nil }
func (NoopFailureCounter) Count(ctx context.Context, url string) (int64, error) { return 0, nil }
