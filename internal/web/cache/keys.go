package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// PlanKey builds the key for a result of resource computed from a plan
// description. Equal descriptions give equal keys.
func PlanKey(resource string, description map[string]interface{}) (string, error) {
	// encoding/json sorts map keys, so the encoding is stable
	encoded, err := json.Marshal(description)
	if err != nil {
		return "", fmt.Errorf("failed to encode plan: %w", err)
	}
	hash := sha256.Sum256(encoded)
	return ResourcePrefix(resource) + hex.EncodeToString(hash[:16]), nil
}

// ResourcePrefix is the key prefix shared by every entry of resource
func ResourcePrefix(resource string) string {
	return "count:" + resource + ":"
}

// Counts caches record counts per resource
type Counts struct {
	cache Cache
	ttl   time.Duration
}

// NewCounts wraps a backend. A zero ttl uses the backend default.
func NewCounts(cache Cache, ttl time.Duration) *Counts {
	return &Counts{cache: cache, ttl: ttl}
}

// Get returns a cached count
func (c *Counts) Get(ctx context.Context, key string) (int, bool, error) {
	value, err := c.cache.Get(ctx, key)
	if err != nil {
		if IsCacheMiss(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	count, err := strconv.Atoi(string(value))
	if err != nil {
		// unreadable entries count as misses
		return 0, false, nil
	}
	return count, true, nil
}

// Put stores a count
func (c *Counts) Put(ctx context.Context, key string, count int) error {
	return c.cache.Set(ctx, key, []byte(strconv.Itoa(count)), c.ttl)
}

// Invalidate drops every count of resource
func (c *Counts) Invalidate(ctx context.Context, resource string) error {
	return c.cache.DeletePrefix(ctx, ResourcePrefix(resource))
}
