package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/pushgate/pkg/cache"
	"github.com/tokmz/pushgate/pkg/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, backend Backend, clock *fakeClock) *Store {
	t.Helper()
	s, err := New(backend, &Config{
		TTL:    time.Hour,
		Secret: "0123456789abcdef0123456789abcdef",
	}, logger.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)
	return s
}

func sampleData() Data {
	return Data{
		Authenticated: true,
		UserID:        "u-1",
		Permissions:   []string{"read"},
		Subscriptions: []Subscription{
			{Topic: "market_data"},
			{Topic: "order_updates", Filter: map[string]string{"symbol": "AAPL"}},
		},
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(NewMemoryBackend(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(NewMemoryBackend(), &Config{Backend: "etcd"}, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(NewMemoryBackend(), &Config{Secret: "short"}, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSaveRestore(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	require.NoError(t, s.Save(ctx, "c-1", sampleData()))

	clock.Advance(59 * time.Minute)
	sess, err := s.Restore(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "c-1", sess.ClientID)
	assert.Equal(t, "u-1", sess.Data.UserID)
	assert.True(t, sess.Data.Authenticated)
	assert.Equal(t, sampleData().Subscriptions, sess.Data.Subscriptions)
	assert.False(t, sess.Data.LastSeen.IsZero())

	// 修改返回值不影响存储
	sess.Data.Subscriptions[1].Filter["symbol"] = "MSFT"
	again, err := s.Restore(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", again.Data.Subscriptions[1].Filter["symbol"])
}

func TestRestoreUnknownOrExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, clock)

	sess, err := s.Restore(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, s.Save(ctx, "c-1", sampleData()))
	clock.Advance(time.Hour)

	sess, err = s.Restore(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, sess)
	assert.Equal(t, 0, backend.Len())
}

func TestSaveOverwritesAndExtends(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	require.NoError(t, s.Save(ctx, "c-1", sampleData()))
	clock.Advance(50 * time.Minute)
	require.NoError(t, s.Save(ctx, "c-1", Data{Subscriptions: []Subscription{{Topic: "trades"}}}))
	clock.Advance(50 * time.Minute)

	sess, err := s.Restore(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.False(t, sess.Data.Authenticated)
	assert.Equal(t, []Subscription{{Topic: "trades"}}, sess.Data.Subscriptions)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), newFakeClock())

	require.NoError(t, s.Save(ctx, "c-1", sampleData()))
	require.NoError(t, s.Delete(ctx, "c-1"))
	sess, err := s.Restore(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := NewMemoryBackend()
	s := newTestStore(t, backend, clock)

	require.NoError(t, s.Save(ctx, "old", sampleData()))
	clock.Advance(30 * time.Minute)
	require.NoError(t, s.Save(ctx, "fresh", sampleData()))
	clock.Advance(31 * time.Minute)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, backend.Len())

	sess, err := s.Restore(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, sess)
}

func TestReconnectToken(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	token := s.GenerateReconnectToken("c-42")
	assert.True(t, strings.HasPrefix(token, "c-42:"))

	id, err := s.ParseReconnectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "c-42", id)

	// 有效期内可重复使用
	clock.Advance(30 * time.Minute)
	id, err = s.ParseReconnectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "c-42", id)

	// 签发时间早于 TTL 不影响令牌，是否可恢复由会话决定
	clock.Advance(2 * time.Hour)
	id, err = s.ParseReconnectToken(token)
	require.NoError(t, err)
	assert.Equal(t, "c-42", id)
}

func TestReconnectTokenOutlivesTTLWhileSessionSaved(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	s := newTestStore(t, NewMemoryBackend(), clock)

	token := s.GenerateReconnectToken("c-1")
	clock.Advance(90 * time.Minute)
	require.NoError(t, s.Save(ctx, "c-1", sampleData()))
	clock.Advance(time.Second)

	id, err := s.ParseReconnectToken(token)
	require.NoError(t, err)
	sess, err := s.Restore(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "u-1", sess.Data.UserID)
}

func TestReconnectTokenMaxAge(t *testing.T) {
	clock := newFakeClock()
	s, err := New(NewMemoryBackend(), &Config{
		TTL:         time.Hour,
		TokenMaxAge: 10 * time.Minute,
		Secret:      "0123456789abcdef0123456789abcdef",
	}, logger.NewNop(), WithClock(clock.Now))
	require.NoError(t, err)

	token := s.GenerateReconnectToken("c-42")
	clock.Advance(11 * time.Minute)
	_, err = s.ParseReconnectToken(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestReconnectTokenRejectsForgery(t *testing.T) {
	s := newTestStore(t, NewMemoryBackend(), newFakeClock())
	token := s.GenerateReconnectToken("c-42")
	_, sig, _ := strings.Cut(token, ":")

	other, err := New(NewMemoryBackend(), &Config{Secret: "another-secret-value-0123456789"}, logger.NewNop())
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no separator", token: "c-42"},
		{name: "empty signature", token: "c-42:"},
		{name: "swapped client", token: "c-43:" + sig},
		{name: "bad base64", token: "c-42:!!!"},
		{name: "truncated", token: token[:len(token)-4]},
		{name: "other secret", token: other.GenerateReconnectToken("c-42")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ParseReconnectToken(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestCacheBackend(t *testing.T) {
	ctx := context.Background()
	c, err := cache.NewWithOptions(cache.WithMemory(cache.DefaultMemoryConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	s, err := New(NewCacheBackend(c), &Config{TTL: time.Minute, Backend: BackendCache}, logger.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "c-1", sampleData()))
	sess, err := s.Restore(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, sampleData().Subscriptions, sess.Data.Subscriptions)

	require.NoError(t, s.Delete(ctx, "c-1"))
	sess, err = s.Restore(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, sess)

	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, NewMemoryBackend(), newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Save(ctx, "shared", sampleData()))
		}()
		go func() {
			defer wg.Done()
			_, err := s.Restore(ctx, "shared")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.Sweep(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestStartStop(t *testing.T) {
	s, err := New(NewMemoryBackend(), &Config{SweepInterval: 10 * time.Millisecond}, logger.NewNop())
	require.NoError(t, err)

	s.Start(context.Background())
	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	s.Stop()
}
