package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/tokmz/pushgate/pkg/logger"
)

// Store 会话存储
//
// 断线时保存认证状态和订阅，凭重连令牌在 TTL 内恢复。
// 同一 client_id 的并发 Restore 合并为一次后端读取。
type Store struct {
	backend       Backend
	log           logger.Logger
	secret        []byte
	ttl           time.Duration
	sweepInterval time.Duration
	tokenMaxAge   time.Duration
	now           func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option 存储选项
type Option func(*Store)

// WithClock 替换时钟，测试使用
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New 创建会话存储
func New(backend Backend, cfg *Config, log logger.Logger, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", ErrInvalidConfig)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("%w: generate secret: %v", ErrInvalidConfig, err)
		}
		log.Warn("session secret not configured, reconnect tokens will not survive a restart")
	}

	s := &Store{
		backend:       backend,
		log:           log.With(zap.String("component", "session_store")),
		secret:        secret,
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		tokenMaxAge:   cfg.TokenMaxAge,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL 会话保留时长
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Save 保存或覆盖会话，过期时间从当前时刻重新计算
func (s *Store) Save(ctx context.Context, clientID string, data Data) error {
	now := s.now()
	if data.LastSeen.IsZero() {
		data.LastSeen = now
	}
	sess := &Session{
		ClientID:  clientID,
		Data:      data,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.backend.Put(ctx, sess); err != nil {
		return err
	}
	s.log.DebugContext(ctx, "session saved",
		zap.String("client_id", clientID),
		zap.Int("subscriptions", len(data.Subscriptions)),
	)
	return nil
}

// Restore 读取会话，不存在或已过期时返回 (nil, nil)
func (s *Store) Restore(ctx context.Context, clientID string) (*Session, error) {
	v, err, _ := s.group.Do(clientID, func() (any, error) {
		return s.backend.Get(ctx, clientID)
	})
	if err != nil {
		return nil, err
	}
	sess, _ := v.(*Session)
	if sess == nil {
		return nil, nil
	}
	if sess.Expired(s.now()) {
		if err := s.backend.Delete(ctx, clientID); err != nil {
			s.log.WarnContext(ctx, "delete expired session failed", zap.String("client_id", clientID), zap.Error(err))
		}
		return nil, nil
	}
	// singleflight 的调用方共享同一个结果
	return sess.clone(), nil
}

// Delete 删除会话
func (s *Store) Delete(ctx context.Context, clientID string) error {
	return s.backend.Delete(ctx, clientID)
}

// Sweep 清理过期会话
func (s *Store) Sweep(ctx context.Context) (int, error) {
	n, err := s.backend.DeleteExpired(ctx, s.now())
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.log.Debug("expired sessions swept", zap.Int("count", n))
	}
	return n, nil
}

// Start 启动后台清理，重复调用无效
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.sweepLoop(ctx, s.done)
}

// Stop 停止后台清理并等待退出
func (s *Store) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Store) sweepLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.log.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}
