package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tokmz/pushgate/pkg/cache"
)

// Backend 会话存储后端
//
// Get 在会话不存在时返回 (nil, nil)。
type Backend interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, clientID string) (*Session, error)
	Delete(ctx context.Context, clientID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// MemoryBackend 进程内存储
type MemoryBackend struct {
	sessions sync.Map // clientID -> *Session
}

// NewMemoryBackend 创建内存后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Put(_ context.Context, s *Session) error {
	m.sessions.Store(s.ClientID, s.clone())
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, clientID string) (*Session, error) {
	v, ok := m.sessions.Load(clientID)
	if !ok {
		return nil, nil
	}
	return v.(*Session).clone(), nil
}

func (m *MemoryBackend) Delete(_ context.Context, clientID string) error {
	m.sessions.Delete(clientID)
	return nil
}

// DeleteExpired 删除过期会话
//
// 使用 CompareAndDelete，期间被重新 Put 的会话不会被误删。
func (m *MemoryBackend) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	removed := 0
	m.sessions.Range(func(key, value any) bool {
		if s := value.(*Session); s.Expired(now) {
			if m.sessions.CompareAndDelete(key, value) {
				removed++
			}
		}
		return true
	})
	return removed, nil
}

// Len 当前条目数
func (m *MemoryBackend) Len() int {
	n := 0
	m.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// CacheBackend 基于 cache.Cache 的存储，过期交给缓存 TTL
type CacheBackend struct {
	cache  cache.Cache
	prefix string
	now    func() time.Time
}

// NewCacheBackend 创建缓存后端
func NewCacheBackend(c cache.Cache) *CacheBackend {
	return &CacheBackend{cache: c, prefix: "session:", now: time.Now}
}

func (b *CacheBackend) key(clientID string) string {
	return b.prefix + clientID
}

func (b *CacheBackend) Put(ctx context.Context, s *Session) error {
	ttl := s.ExpiresAt.Sub(b.now())
	if ttl <= 0 {
		return b.Delete(ctx, s.ClientID)
	}
	if err := b.cache.Set(ctx, b.key(s.ClientID), s, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

func (b *CacheBackend) Get(ctx context.Context, clientID string) (*Session, error) {
	var s Session
	if err := b.cache.Get(ctx, b.key(clientID), &s); err != nil {
		if errors.Is(err, cache.ErrCacheNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return &s, nil
}

func (b *CacheBackend) Delete(ctx context.Context, clientID string) error {
	if err := b.cache.Delete(ctx, b.key(clientID)); err != nil && !errors.Is(err, cache.ErrCacheNotFound) {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// DeleteExpired 缓存自行淘汰过期键
func (b *CacheBackend) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
