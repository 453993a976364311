// Package cache stores query results, such as record counts, keyed by resource
// and plan. Backends are in-memory or Redis.
package cache

import (
	"context"
	"time"
)

// Cache defines the interface for all cache backends
type Cache interface {
	// Get retrieves a value from the cache
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with a TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every value whose key starts with prefix
	DeletePrefix(ctx context.Context, prefix string) error

	// Close releases the backend
	Close() error
}

// CacheConfig holds common configuration for cache backends
type CacheConfig struct {
	// DefaultTTL is the default time-to-live for cached items
	DefaultTTL time.Duration
	// Prefix is prepended to all cache keys
	Prefix string
}

// DefaultCacheConfig returns a default cache configuration
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		DefaultTTL: time.Minute,
		Prefix:     "datasource:",
	}
}

// ErrCacheMiss is returned when a key is not found in the cache
type ErrCacheMiss struct {
	Key string
}

func (e ErrCacheMiss) Error() string {
	return "cache miss: " + e.Key
}

// IsCacheMiss checks if an error is a cache miss
func IsCacheMiss(err error) bool {
	_, ok := err.(ErrCacheMiss)
	return ok
}

// Config selects and configures a backend
type Config struct {
	// Driver is "memory", "redis" or empty for no cache
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
	Prefix string        `mapstructure:"prefix"`

	// Redis settings
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// New creates the backend named by config.Driver. It returns nil without
// error when no driver is configured.
func New(config Config) (Cache, error) {
	common := DefaultCacheConfig()
	if config.TTL > 0 {
		common.DefaultTTL = config.TTL
	}
	if config.Prefix != "" {
		common.Prefix = config.Prefix
	}

	switch config.Driver {
	case "":
		return nil, nil
	case "memory":
		return NewMemoryCacheWithConfig(common), nil
	case "redis":
		redisConfig := DefaultRedisConfig()
		if config.Addr != "" {
			redisConfig.Addr = config.Addr
		}
		redisConfig.Password = config.Password
		redisConfig.DB = config.DB
		redisConfig.CacheConfig = common
		redisCache, err := NewRedisCacheWithConfig(redisConfig)
		if err != nil {
			return nil, err
		}
		return redisCache, nil
	default:
		return nil, &UnknownDriverError{Driver: config.Driver}
	}
}

// UnknownDriverError is returned by New for an unsupported driver
type UnknownDriverError struct {
	Driver string
}

func (e *UnknownDriverError) Error() string {
	return "unknown cache driver: " + e.Driver
}
