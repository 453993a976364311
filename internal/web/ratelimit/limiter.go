// Package ratelimit limits requests per key with an in-memory token bucket
// or a Redis sliding window shared between server instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter decides whether a request for key may proceed
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*RateLimitInfo, error)
}

// RateLimitInfo contains information about the current rate limit state
type RateLimitInfo struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Allowed   bool
}

// Config selects and sizes a limiter. An empty Driver disables limiting.
type Config struct {
	Driver   string        `mapstructure:"driver"`
	Limit    int           `mapstructure:"limit"`
	Window   time.Duration `mapstructure:"window"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
}

// New builds the limiter described by cfg. It returns nil, nil when
// limiting is disabled. The returned close func releases the limiter.
func New(cfg Config) (RateLimiter, func() error, error) {
	switch cfg.Driver {
	case "":
		return nil, nil, nil
	case "memory":
		tb := NewTokenBucketWithConfig(TokenBucketConfig{
			Capacity:        cfg.Limit,
			RefillRate:      cfg.Window,
			CleanupInterval: 5 * time.Minute,
		})
		return tb, tb.Close, nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		limiter, err := NewRedisRateLimiter(RedisRateLimiterConfig{
			Client: client,
			Limit:  cfg.Limit,
			Window: cfg.Window,
			Prefix: cfg.Prefix,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return limiter, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown rate limit driver: %s", cfg.Driver)
	}
}
