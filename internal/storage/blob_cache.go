// internal/storage/blob_cache.go
package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/Corphon/DramaForge/internal/utils"
)

// CachedBlobStore 给任意 BlobStore 加内存读缓存。
// 参考图在一次生成中会被多个分镜同时读取，同一个 key 的并发读取只回源一次。
type CachedBlobStore struct {
	inner BlobStore
	cache *cache.Cache
	group singleflight.Group
}

// NewCachedBlobStore expiration<=0 时默认 5 分钟
func NewCachedBlobStore(inner BlobStore, expiration time.Duration) *CachedBlobStore {
	if expiration <= 0 {
		expiration = 5 * time.Minute
	}
	return &CachedBlobStore{
		inner: inner,
		cache: cache.New(expiration, 2*expiration),
	}
}

func (c *CachedBlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	metrics := utils.GetMetricsCollector()
	if data, ok := c.cache.Get(key); ok {
		metrics.IncrementCounter("blob_cache_hits")
		return data.([]byte), nil
	}
	metrics.IncrementCounter("blob_cache_misses")

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		data, err := c.inner.Read(ctx, key)
		if err != nil {
			return nil, err
		}
		c.cache.SetDefault(key, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *CachedBlobStore) Write(ctx context.Context, key string, data []byte) error {
	if err := c.inner.Write(ctx, key, data); err != nil {
		c.cache.Delete(key)
		return err
	}
	c.cache.SetDefault(key, data)
	return nil
}

func (c *CachedBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	if _, ok := c.cache.Get(key); ok {
		return true, nil
	}
	return c.inner.Exists(ctx, key)
}

func (c *CachedBlobStore) Delete(ctx context.Context, key string) error {
	c.cache.Delete(key)
	return c.inner.Delete(ctx, key)
}

func (c *CachedBlobStore) PublicURL(key string) string {
	return c.inner.PublicURL(key)
}

// ItemCount 当前缓存条目数
func (c *CachedBlobStore) ItemCount() int {
	return c.cache.ItemCount()
}
