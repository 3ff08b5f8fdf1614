package authz

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedResolution is the per-principal value stored in Redis between a
// resolution and the next mutation that invalidates it.
type cachedResolution struct {
	Role      Role            `json:"role"`
	Status    AccountStatus   `json:"status"`
	Overrides map[string]bool `json:"overrides,omitempty"`
}

// Cache stores resolved roles per principal in Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a resolution cache. TTL bounds staleness for entries
// that miss an explicit invalidation (e.g. records mutated out of band).
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func cacheKey(userID string) string {
	return "authz:resolution:" + userID
}

// Get returns the cached resolution for the user, or ok=false on a miss.
// Redis failures are reported as misses; resolution falls through to the
// record store.
func (c *Cache) Get(ctx context.Context, userID string) (cachedResolution, bool) {
	if c == nil || c.client == nil {
		return cachedResolution{}, false
	}
	raw, err := c.client.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		return cachedResolution{}, false
	}
	var cached cachedResolution
	if err := json.Unmarshal(raw, &cached); err != nil {
		return cachedResolution{}, false
	}
	return cached, true
}

// Set stores the resolution for the user.
func (c *Cache) Set(ctx context.Context, userID string, value cachedResolution) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(userID), raw, c.ttl).Err()
}

// Invalidate drops the cached resolution for the user. Called after every
// mutation so the next gating decision reads fresh state.
func (c *Cache) Invalidate(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, cacheKey(userID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
