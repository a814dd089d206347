package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// RedisFixedWindow counts requests per subject in fixed windows. One
// INCR plus a PEXPIRE on window start; coarser than a token bucket but
// enough to keep a runaway uploader from flooding the queue.
type RedisFixedWindow struct {
	client    redis.UniversalClient
	capacity  int64
	window    time.Duration
	keyPrefix string
}

func NewRedisFixedWindow(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisFixedWindow, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "imagepress:ratelimit"
	}

	return &RedisFixedWindow{
		client:    client,
		capacity:  int64(capacity),
		window:    window,
		keyPrefix: keyPrefix,
	}, nil
}

func (l *RedisFixedWindow) Allow(ctx context.Context, subject string) (Decision, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	key := l.keyPrefix + ":" + subject

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("increment window counter: %w", err)
	}
	if count == 1 {
		if err := l.client.PExpire(ctx, key, l.window).Err(); err != nil {
			return Decision{}, fmt.Errorf("arm window expiry: %w", err)
		}
	}

	if count <= l.capacity {
		return Decision{
			Allowed:   true,
			Remaining: l.capacity - count,
		}, nil
	}

	ttl, err := l.client.PTTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}
	return Decision{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: ttl,
	}, nil
}
