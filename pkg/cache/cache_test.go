package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type sessionEntry struct {
	ClientID string
	Topics   []string
}

func newMemory(t *testing.T) Cache {
	t.Helper()
	c, err := NewWithOptions(
		WithMemory(DefaultMemoryConfig()),
		WithKeyPrefix("test:"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	t.Run("Set/Get", func(t *testing.T) {
		in := sessionEntry{ClientID: "c-1", Topics: []string{"market_data"}}
		require.NoError(t, c.Set(ctx, "session:c-1", in, time.Minute))

		var out sessionEntry
		require.NoError(t, c.Get(ctx, "session:c-1", &out))
		assert.Equal(t, in, out)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k1", "v1", time.Minute))
		require.NoError(t, c.Delete(ctx, "k1"))

		var v string
		assert.ErrorIs(t, c.Get(ctx, "k1", &v), ErrCacheNotFound)
	})

	t.Run("Exists", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "k2", "v2", time.Minute))

		ok, err := c.Exists(ctx, "k2")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = c.Exists(ctx, "nonexistent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("TTL", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "ttl_key", "v", 5*time.Second))

		ttl, err := c.TTL(ctx, "ttl_key")
		require.NoError(t, err)
		assert.True(t, ttl > 0 && ttl <= 5*time.Second, "unexpected ttl %v", ttl)

		_, err = c.TTL(ctx, "missing")
		assert.ErrorIs(t, err, ErrCacheNotFound)
	})

	t.Run("Expire", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "exp", "v", time.Minute))
		require.NoError(t, c.Expire(ctx, "exp", 20*time.Millisecond))

		assert.Eventually(t, func() bool {
			ok, _ := c.Exists(ctx, "exp")
			return !ok
		}, time.Second, 10*time.Millisecond)

		assert.ErrorIs(t, c.Expire(ctx, "missing", time.Second), ErrCacheNotFound)
	})

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, c.Ping(ctx))
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
		ok   bool
	}{
		{name: "memory defaults", cfg: &Config{}, ok: true},
		{name: "unknown driver", cfg: &Config{Driver: "etcd"}, ok: false},
		{name: "redis without config", cfg: &Config{Driver: DriverRedis}, ok: false},
		{name: "standalone without addr", cfg: &Config{Driver: DriverRedis, Redis: &RedisConfig{}}, ok: false},
		{name: "cluster too small", cfg: &Config{Driver: DriverRedis, Redis: &RedisConfig{Mode: RedisCluster, Addrs: []string{"a:1"}}}, ok: false},
		{name: "sentinel without master", cfg: &Config{Driver: DriverRedis, Redis: &RedisConfig{Mode: RedisSentinel, Addrs: []string{"a:1"}}}, ok: false},
		{name: "standalone", cfg: &Config{Driver: DriverRedis, Redis: &RedisConfig{Addr: "localhost:6379"}}, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.setDefaults()
			err := tt.cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrCacheInvalidConfig)
		})
	}
}

func TestRememberWithLockCollapsesConcurrentLoads(t *testing.T) {
	ctx := context.Background()
	sf := NewSingleflightCache(newMemory(t))

	var calls atomic.Int32
	release := make(chan struct{})
	fn := func() (sessionEntry, error) {
		calls.Add(1)
		<-release
		return sessionEntry{ClientID: "c-9"}, nil
	}

	var wg sync.WaitGroup
	results := make([]sessionEntry, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := RememberWithLock(ctx, sf, "identity", time.Minute, fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(2))
	for _, r := range results {
		assert.Equal(t, "c-9", r.ClientID)
	}

	// 命中缓存时反序列化为具体类型
	v, err := RememberWithLock(ctx, sf, "identity", time.Minute, func() (sessionEntry, error) {
		return sessionEntry{}, errors.New("should not load")
	})
	require.NoError(t, err)
	assert.Equal(t, "c-9", v.ClientID)
}

func TestRememberWithLockPropagatesError(t *testing.T) {
	sf := NewSingleflightCache(newMemory(t))
	boom := errors.New("upstream down")

	_, err := RememberWithLock(context.Background(), sf, "k", time.Minute, func() (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestKeyPrefixAndDefaultTTL(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.KeyPrefix = "gw:"
	cfg.DefaultTTL = time.Minute
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(ctx, "session:c-1", "v", 0))
	ttl, err := c.TTL(ctx, "session:c-1")
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)

	mc := c.(*memoryCache)
	_, ok := mc.store.Get("gw:session:c-1")
	assert.True(t, ok)
}

func TestTracingRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	c := NewTracing(newMemory(t))

	require.NoError(t, c.Set(ctx, "typed", sessionEntry{ClientID: "c-2"}, time.Minute))
	var got sessionEntry
	require.NoError(t, c.Get(ctx, "typed", &got))
	assert.Equal(t, "c-2", got.ClientID)
	assert.ErrorIs(t, c.Get(ctx, "missing", &got), ErrCacheNotFound)
	require.NoError(t, c.Delete(ctx, "typed"))

	ended := recorder.Ended()
	require.Len(t, ended, 4)
	names := make([]string, 0, len(ended))
	for _, s := range ended {
		names = append(names, s.Name())
		assert.NotEqual(t, codes.Error, s.Status().Code, s.Name())
	}
	assert.Equal(t, []string{"cache.Set", "cache.Get", "cache.Get", "cache.Delete"}, names)
	assert.Contains(t, ended[2].Attributes(), attribute.Bool("cache.hit", false))
}
