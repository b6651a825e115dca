package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryCache 单实例部署用，过期由 go-cache 的 janitor 清理
type memoryCache struct {
	keyspace
	store *gocache.Cache
}

func newMemoryCache(cfg *MemoryConfig, ks keyspace) *memoryCache {
	return &memoryCache{
		keyspace: ks,
		store:    gocache.New(cfg.DefaultExpiration, cfg.CleanupInterval),
	}
}

func (m *memoryCache) Get(_ context.Context, key string, value any) error {
	raw, ok := m.store.Get(m.key(key))
	if !ok {
		return ErrCacheNotFound
	}
	data, ok := raw.([]byte)
	if !ok {
		return ErrCacheSerialization.WithMessage("unexpected value type in memory cache")
	}
	return m.decode(data, value)
}

func (m *memoryCache) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	data, err := m.encode(value)
	if err != nil {
		return err
	}
	m.store.Set(m.key(key), data, m.expiry(ttl))
	return nil
}

func (m *memoryCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range m.keys(keys) {
		m.store.Delete(key)
	}
	return nil
}

func (m *memoryCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.store.Get(m.key(key))
	return ok, nil
}

func (m *memoryCache) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, ok := m.store.GetWithExpiration(m.key(key))
	switch {
	case !ok:
		return 0, ErrCacheNotFound
	case exp.IsZero():
		return -1, nil
	}
	if left := time.Until(exp); left > 0 {
		return left, nil
	}
	return 0, ErrCacheExpired
}

// Expire go-cache 不支持单独改过期时间，重新写入同一值
func (m *memoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	k := m.key(key)
	raw, ok := m.store.Get(k)
	if !ok {
		return ErrCacheNotFound
	}
	m.store.Set(k, raw, ttl)
	return nil
}

func (m *memoryCache) Ping(context.Context) error { return nil }

func (m *memoryCache) Close() error {
	m.store.Flush()
	return nil
}
