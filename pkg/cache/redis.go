package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 5 * time.Second

// redisCache 多实例部署用，会话可在任一网关节点恢复
type redisCache struct {
	keyspace
	client redis.UniversalClient
}

func newRedisCache(cfg *RedisConfig, ks keyspace) (*redisCache, error) {
	opts := &redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	var client redis.UniversalClient
	switch cfg.Mode {
	case RedisCluster:
		client = redis.NewClusterClient(opts.Cluster())
	case RedisSentinel:
		client = redis.NewFailoverClient(opts.Failover())
	default:
		opts.Addrs = []string{cfg.Addr}
		client = redis.NewClient(opts.Simple())
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, ErrCacheConnection.WithError(err)
	}
	return &redisCache{keyspace: ks, client: client}, nil
}

func (r *redisCache) Get(ctx context.Context, key string, value any) error {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheNotFound
	}
	if err != nil {
		return ErrCacheOperation.WithError(err)
	}
	return r.decode(data, value)
}

func (r *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := r.encode(value)
	if err != nil {
		return err
	}
	return opErr(r.client.Set(ctx, r.key(key), data, r.expiry(ttl)).Err())
}

func (r *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return opErr(r.client.Del(ctx, r.keys(keys)...).Err())
}

func (r *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	return n > 0, opErr(err)
}

// TTL redis 对不存在的键返回 -2，对无过期的键返回 -1
func (r *redisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := r.client.TTL(ctx, r.key(key)).Result()
	switch {
	case err != nil:
		return 0, opErr(err)
	case ttl == -2:
		return 0, ErrCacheNotFound
	case ttl < 0:
		return -1, nil
	}
	return ttl, nil
}

func (r *redisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, r.key(key), ttl).Result()
	if err != nil {
		return opErr(err)
	}
	if !ok {
		return ErrCacheNotFound
	}
	return nil
}

func (r *redisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return ErrCacheConnection.WithError(err)
	}
	return nil
}

func (r *redisCache) Close() error { return opErr(r.client.Close()) }

func opErr(err error) error {
	if err == nil {
		return nil
	}
	return ErrCacheOperation.WithError(err)
}
