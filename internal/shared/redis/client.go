package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Allow checks the per-minute fixed-window rate limit for a principal.
// Returns whether the request may proceed and how many calls remain in the
// current window.
func (c *Client) Allow(ctx context.Context, principal string, limit int) (bool, int, error) {
	key := fmt.Sprintf("ratelimit:%s", principal)

	count, err := c.client.Get(ctx, key).Int()
	if err == redis.Nil {
		// First request in this window
		if err := c.client.Set(ctx, key, 1, time.Minute).Err(); err != nil {
			return false, 0, err
		}
		return true, limit - 1, nil
	}
	if err != nil {
		return false, 0, err
	}

	if count >= limit {
		return false, 0, nil
	}

	newCount, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if newCount == 1 {
		c.client.Expire(ctx, key, time.Minute)
	}

	remaining := limit - int(newCount)
	if remaining < 0 {
		remaining = 0
	}

	return true, remaining, nil
}
