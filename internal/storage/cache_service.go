package storage

import (
	"context"
	"fmt"
	"strings"
)

// CacheService invalidates cached dashboard read models.
// Keys have the form <bucket>:<userId> with optional sub-keys <bucket>:<userId>:<part>.
type CacheService struct {
	redis *RedisCache
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache) *CacheService {
	return &CacheService{redis: redis}
}

// BucketKey builds the cache key of a bucket for a user, with optional sub-key parts
func BucketKey(bucket, userID string, parts ...string) string {
	all := append([]string{bucket, userID}, parts...)
	return strings.Join(all, ":")
}

// RefreshBucket drops a user's cached read model for bucket so the next read rebuilds it
func (c *CacheService) RefreshBucket(ctx context.Context, bucket, userID string) error {
	if bucket == "" || userID == "" {
		return fmt.Errorf("bucket and user id are required")
	}

	base := BucketKey(bucket, userID)
	if err := c.redis.Del(ctx, base); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", base, err)
	}
	if _, err := c.redis.DeleteMatching(ctx, base+":*"); err != nil {
		return fmt.Errorf("failed to invalidate sub-keys of %s: %w", base, err)
	}
	return nil
}
