package middleware

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate"
	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
)

// RateLimiterConfig 握手限流配置
type RateLimiterConfig struct {
	RequestsPerSecond float64 // 默认 5
	Burst             int     // 默认 10

	// KeyFunc 默认客户端 IP
	KeyFunc func(c *pushgate.Context) string

	// Paths 为空时对所有请求限流
	Paths []string

	Logger logger.Logger

	// IdleExpiry 多久没有请求的 key 被回收（默认 30 分钟）
	IdleExpiry time.Duration
}

// gcra 单个 key 的限流状态：tat 为理论到达时间，
// 请求在 tat 超前 now 不超过 (burst-1) 个间隔时放行
type gcra struct {
	mu  sync.Mutex
	tat time.Time
}

func (g *gcra) allow(now time.Time, interval time.Duration, burst int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	tat := g.tat
	if tat.Before(now) {
		tat = now
	}
	if tat.Sub(now) > interval*time.Duration(burst-1) {
		return false
	}
	g.tat = tat.Add(interval)
	return true
}

// keyedLimiter 状态存在 go-cache 中，闲置 key 由 janitor 过期回收
type keyedLimiter struct {
	states   *gocache.Cache
	interval time.Duration
	burst    int
	idle     time.Duration
	now      func() time.Time
}

func newKeyedLimiter(rps float64, burst int, idle time.Duration) *keyedLimiter {
	return &keyedLimiter{
		states:   gocache.New(idle, idle/2),
		interval: time.Duration(float64(time.Second) / rps),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

func (l *keyedLimiter) allow(key string) bool {
	var state *gcra
	if v, ok := l.states.Get(key); ok {
		state = v.(*gcra)
	} else {
		state = &gcra{}
		if err := l.states.Add(key, state, l.idle); err != nil {
			// 并发首次访问，使用已写入的那一个
			if v, ok := l.states.Get(key); ok {
				state = v.(*gcra)
			}
		}
	}
	ok := state.allow(l.now(), l.interval, l.burst)
	// 续期
	l.states.Set(key, state, l.idle)
	return ok
}

// RateLimiter 按 key 限流，超限响应 429 rate_limited
func RateLimiter(cfgs ...*RateLimiterConfig) pushgate.HandlerFunc {
	cfg := &RateLimiterConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.IdleExpiry <= 0 {
		cfg.IdleExpiry = 30 * time.Minute
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *pushgate.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	paths := make(map[string]struct{}, len(cfg.Paths))
	for _, p := range cfg.Paths {
		paths[p] = struct{}{}
	}
	limiter := newKeyedLimiter(cfg.RequestsPerSecond, cfg.Burst, cfg.IdleExpiry)

	return func(c *pushgate.Context) {
		path := c.Request().URL.Path
		if _, limited := paths[path]; len(paths) > 0 && !limited {
			c.Next()
			return
		}

		key := cfg.KeyFunc(c)
		if limiter.allow(key) {
			c.Next()
			return
		}
		cfg.Logger.WarnContext(c.RequestContext(), "rate limit exceeded",
			zap.String("key", key),
			zap.String("path", path),
		)
		c.RespondError(errors.ErrRateLimited)
		c.Abort()
	}
}
