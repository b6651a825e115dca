package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// SingleflightCache 同一 key 未命中时只回源一次，其余调用者共享结果
type SingleflightCache struct {
	Cache
	group singleflight.Group
}

func NewSingleflightCache(c Cache) *SingleflightCache {
	return &SingleflightCache{Cache: c}
}

// RememberWithLock 读缓存，未命中调用 load 并写回；load 的错误不缓存
func RememberWithLock[T any](ctx context.Context, sf *SingleflightCache, key string, ttl time.Duration, load func() (T, error)) (T, error) {
	var out T
	if err := sf.Get(ctx, key, &out); err == nil {
		return out, nil
	}

	v, err, _ := sf.group.Do(key, func() (any, error) {
		var cached T
		if err := sf.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
		fresh, err := load()
		if err != nil {
			return nil, err
		}
		// 写回失败只影响下次命中
		_ = sf.Set(ctx, key, fresh, ttl)
		return fresh, nil
	})
	if err != nil {
		return out, err
	}
	out, ok := v.(T)
	if !ok {
		return out, ErrCacheSerialization.WithMessage("singleflight result type mismatch")
	}
	return out, nil
}
