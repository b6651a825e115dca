// Package cache 会话与认证结果共用的 KV 缓存，支持进程内与 Redis 两种驱动
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache 缓存接口，值经 Serializer 编码后存储
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// TTL 不存在返回 ErrCacheNotFound，永不过期返回 -1
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

// Serializer 值编码
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer 默认编码
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// New 按 cfg.Driver 创建缓存
func New(cfg *Config) (Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ks := keyspace{prefix: cfg.KeyPrefix, codec: cfg.Serializer, ttl: cfg.DefaultTTL}
	if cfg.Driver == DriverRedis {
		return newRedisCache(cfg.Redis, ks)
	}
	return newMemoryCache(cfg.Memory, ks), nil
}

// NewWithOptions 从默认配置出发应用 Options
func NewWithOptions(opts ...Option) (Cache, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

// keyspace 两种驱动共用的前缀、编码与默认 TTL
type keyspace struct {
	prefix string
	codec  Serializer
	ttl    time.Duration
}

func (k keyspace) key(key string) string { return k.prefix + key }

func (k keyspace) keys(keys []string) []string {
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = k.prefix + key
	}
	return out
}

func (k keyspace) expiry(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return k.ttl
	}
	return ttl
}

func (k keyspace) encode(v any) ([]byte, error) {
	data, err := k.codec.Marshal(v)
	if err != nil {
		return nil, ErrCacheSerialization.WithError(err)
	}
	return data, nil
}

func (k keyspace) decode(data []byte, v any) error {
	if err := k.codec.Unmarshal(data, v); err != nil {
		return ErrCacheSerialization.WithError(err)
	}
	return nil
}
