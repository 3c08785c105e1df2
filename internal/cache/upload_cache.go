package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

const localCacheSize = 10000

// UploadCache remembers the provider handle of media already uploaded for an
// account, so a redelivered publish reuses it instead of uploading again.
type UploadCache struct {
	cache *cache.Cache
	ttl   time.Duration
}

func NewUploadCache(client redis.UniversalClient, ttl time.Duration) *UploadCache {
	c := cache.New(&cache.Options{
		Redis:      client,
		LocalCache: cache.NewTinyLFU(localCacheSize, time.Minute),
	})
	return &UploadCache{cache: c, ttl: ttl}
}

func uploadKey(provider, accountID, mediaKey string) string {
	return fmt.Sprintf("crosspost:upload:%s:%s:%s", provider, accountID, mediaKey)
}

func (u *UploadCache) Get(ctx context.Context, provider, accountID, mediaKey string) (string, bool, error) {
	var handle string
	err := u.cache.Get(ctx, uploadKey(provider, accountID, mediaKey), &handle)
	if errors.Is(err, cache.ErrCacheMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return handle, true, nil
}

func (u *UploadCache) Set(ctx context.Context, provider, accountID, mediaKey, handle string) error {
	return u.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   uploadKey(provider, accountID, mediaKey),
		Value: handle,
		TTL:   u.ttl,
	})
}
