package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eldtechnologies/agentrelay/internal/models"
)

// RedisLimiter keeps cooldown state in Redis so that it survives restarts.
// Each admission is a single SET NX PX, so concurrent requests for the
// same agent cannot both be admitted, and expiry does the eviction.
type RedisLimiter struct {
	client   *redis.Client
	cooldown time.Duration
	scope    string
	owner    bool
}

// NewRedisLimiter connects to redisURL and returns a limiter.
func NewRedisLimiter(ctx context.Context, redisURL string, cooldown time.Duration) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisLimiter{client: client, cooldown: cooldown, scope: "agent", owner: true}, nil
}

// Scoped returns a limiter sharing this connection with its own window and
// key namespace. Closing it leaves the shared connection open.
func (l *RedisLimiter) Scoped(scope string, cooldown time.Duration) *RedisLimiter {
	return &RedisLimiter{client: l.client, cooldown: cooldown, scope: scope}
}

// cooldownKey returns the key holding the last admission for key.
func (l *RedisLimiter) cooldownKey(key string) string {
	return fmt.Sprintf("cooldown:%s:%s", l.scope, key)
}

// Admit reports whether key may act now, recording the admission if so.
func (l *RedisLimiter) Admit(ctx context.Context, key string) (bool, error) {
	if l.cooldown <= 0 {
		return true, nil
	}

	ok, err := l.client.SetNX(ctx, l.cooldownKey(key), time.Now().UnixMilli(), l.cooldown).Result()
	if err != nil {
		return false, fmt.Errorf("%w: rate limit: %w", models.ErrStorage, err)
	}
	return ok, nil
}

// Cooldown returns the configured window.
func (l *RedisLimiter) Cooldown() time.Duration {
	return l.cooldown
}

// Ping checks the Redis connection.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection if this limiter opened it.
func (l *RedisLimiter) Close() error {
	if !l.owner {
		return nil
	}
	return l.client.Close()
}
