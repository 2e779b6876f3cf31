package rbac

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/spacefolk/spacefolk/internal/permissions"
)

// Cache stores derived permission sets in Redis with per-space versioning.
// Any mutation in a space bumps its version, which orphans every cached entry
// for that space at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(spaceID int64) string {
	return fmt.Sprintf("rbac:ver:%d", spaceID)
}

// Version returns the current cache version for a space, initialising when
// missing.
func (c *Cache) Version(ctx context.Context, spaceID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(spaceID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.Set(ctx, versionKey(spaceID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Fetch loads a cached permission set or populates it using the loader.
func (c *Cache) Fetch(ctx context.Context, spaceID, accountID int64, loader func(context.Context) (permissions.Set, error)) (permissions.Set, error) {
	if loader == nil {
		return 0, errors.New("rbac: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}

	ver, err := c.Version(ctx, spaceID)
	if err != nil {
		return 0, err
	}
	key := fmt.Sprintf("rbac:eff:%d:%d:%d", spaceID, accountID, ver)

	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		mask, parseErr := strconv.ParseUint(raw, 10, 64)
		if parseErr == nil {
			return permissions.Set(mask), nil
		}
		// Fall through and recompute on a corrupt entry.
	} else if !errors.Is(err, redis.Nil) {
		return 0, err
	}

	// Concurrent misses for the same key compute once.
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, strconv.FormatUint(uint64(value), 10), c.ttl).Err(); err != nil {
			return nil, err
		}
		return value, nil
	})
	if err != nil {
		return 0, err
	}
	return result.(permissions.Set), nil
}

// Bump invalidates every cached entry for the space by incrementing its
// version.
func (c *Cache) Bump(ctx context.Context, spaceID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(spaceID)).Err()
}
