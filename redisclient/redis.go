// Package redisclient wraps the shared Redis connection used to back
// the summary cache.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/LinkyBoard/linkyboard-ai/services/orchestrator/config"
)

// Client wraps a *redis.Client, the same library the teacher uses.
type Client struct {
	raw *redis.Client
}

// New creates a Redis client from cfg. Returns an error if the URL
// cannot be parsed; callers are expected to keep running without
// Redis (falling back to in-memory stores) rather than fail startup.
func New(cfg *config.Config) (*Client, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL not configured")
	}
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return &Client{raw: redis.NewClient(opt)}, nil
}

// Ping checks connectivity with a short timeout.
func (c *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.raw.Ping(ctx).Err()
}

// Raw returns the underlying client for packages that need the full
// go-redis API (cache.NewRedisStore).
func (c *Client) Raw() *redis.Client {
	return c.raw
}
