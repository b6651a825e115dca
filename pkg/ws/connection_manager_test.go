package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacityCeiling(t *testing.T) {
	m := newTestManager(t, nil, WithMaxConnections(3))

	conns := make([]*Conn, 0, 3)
	for i := 0; i < 3; i++ {
		conns = append(conns, addConn(t, m))
	}

	extra := m.newConn(nil, Metadata{}, 4)
	assert.ErrorIs(t, m.Add(extra), ErrCapacityExceeded)
	assert.Equal(t, 3, m.Count())
	assert.Equal(t, int64(1), m.stats.rejected.Load())

	// 已有连接不受影响
	for _, c := range conns {
		got, ok := m.Get(c.ID())
		require.True(t, ok)
		assert.Same(t, c, got)
		code, _ := c.CloseStatus()
		assert.Zero(t, code)
	}

	require.True(t, m.Release(conns[0], ReasonNormal))
	assert.NoError(t, m.Add(extra))
}

func TestConcurrentAddRespectsCapacity(t *testing.T) {
	m := newTestManager(t, nil, WithMaxConnections(10))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Add(m.newConn(nil, Metadata{}, 1)) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, accepted)
	assert.Equal(t, 10, m.Count())
}

func TestRestoreAndCompareAndDelete(t *testing.T) {
	m := newTestManager(t, nil)
	old := addConn(t, m)
	id := old.ID()

	next := m.newConn(nil, Metadata{}, 4)
	assert.False(t, m.Restore(id, next), "id still live")
	assert.Equal(t, "", next.ID())
	assert.Equal(t, 1, m.Count())

	require.True(t, m.Release(old, ReasonNormal))
	require.True(t, m.Restore(id, next))
	assert.Equal(t, id, next.ID())

	// 旧连接的延迟清理不能删掉新连接
	assert.False(t, m.Release(old, ReasonNormal))
	got, ok := m.Get(id)
	require.True(t, ok)
	assert.Same(t, next, got)
	assert.Equal(t, 1, m.Count())
}

func TestRemoveClosesConnection(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m)

	assert.True(t, m.Remove(c.ID(), ReasonNormal))
	assert.False(t, m.Remove(c.ID(), ReasonNormal))
	code, reason := c.CloseStatus()
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, ReasonNormal, reason)
	assert.Equal(t, 0, m.Count())
}

func TestSendIsNonBlocking(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m) // 队列容量 4

	for i := 0; i < 4; i++ {
		assert.True(t, m.Send(c.ID(), StatusReply{Type: TypeStatus, Status: "ok"}))
	}
	assert.False(t, m.Send(c.ID(), StatusReply{Type: TypeStatus, Status: "ok"}))
	assert.False(t, m.Send("missing", StatusReply{}))
	assert.Len(t, drain(c), 4)

	// 成功投递会清零失败计数
	assert.True(t, m.Send(c.ID(), StatusReply{Type: TypeStatus}))
	assert.Zero(t, c.sendFailures.Load())
}

func TestSlowConsumerIsClosed(t *testing.T) {
	m := newTestManager(t, nil, func(c *Config) { c.SlowConsumerThreshold = 3 })
	c := addConn(t, m)
	for i := 0; i < 4; i++ {
		require.True(t, m.Send(c.ID(), StatusReply{}))
	}

	for i := 0; i < 3; i++ {
		assert.False(t, m.Send(c.ID(), StatusReply{}))
	}
	code, reason := c.CloseStatus()
	assert.Equal(t, CloseSlowConsumer, code)
	assert.Equal(t, ReasonSlowConsumer, reason)
	assert.Equal(t, int64(3), m.stats.dropped.Load())
}

func TestHeartbeatTimeout(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, WithHeartbeatInterval(10*time.Second))
	silent := addConn(t, m)
	alive := addConn(t, m)

	clock.Advance(25 * time.Second)
	assert.True(t, m.TouchHeartbeat(alive.ID()))
	assert.False(t, m.TouchHeartbeat("missing"))
	assert.Equal(t, 0, m.checkHeartbeats())

	clock.Advance(6 * time.Second)
	assert.Equal(t, 1, m.checkHeartbeats())

	code, reason := silent.CloseStatus()
	assert.Equal(t, CloseHeartbeatTimeout, code)
	assert.Equal(t, ReasonHeartbeatTimeout, reason)
	code, _ = alive.CloseStatus()
	assert.Zero(t, code)
}

func TestRateLimitsAndHotReload(t *testing.T) {
	clock := newFakeClock()
	m := newTestManager(t, clock, WithRateLimits(2, 1, 10))
	c := addConn(t, m)

	assert.True(t, m.AllowMessage(c.ID()))
	assert.True(t, m.AllowMessage(c.ID()))
	assert.False(t, m.AllowMessage(c.ID()))
	assert.True(t, m.AllowSubscription(c.ID()))
	assert.False(t, m.AllowSubscription(c.ID()))
	assert.False(t, m.AllowMessage("missing"))

	m.SetLimits(Limits{MaxMessagesPerMinute: 5, MaxSubscriptionsPerHour: 1, MaxSubscriptionsPerClient: 10})
	assert.Equal(t, 5, m.Limits().MaxMessagesPerMinute)
	assert.True(t, m.AllowMessage(c.ID()))

	clock.Advance(time.Hour)
	assert.True(t, m.AllowSubscription(c.ID()))
}

func TestCloseAll(t *testing.T) {
	m := newTestManager(t, nil)
	a, b := addConn(t, m), addConn(t, m)

	m.CloseAll(CloseShutdown, ReasonShutdown)
	for _, c := range []*Conn{a, b} {
		code, reason := c.CloseStatus()
		assert.Equal(t, CloseShutdown, code)
		assert.Equal(t, ReasonShutdown, reason)
		assert.Equal(t, StateClosing, c.State())
	}
	// 第一次关闭码生效
	a.Close(CloseNormal, ReasonNormal)
	code, _ := a.CloseStatus()
	assert.Equal(t, CloseShutdown, code)
}

func TestConnIdentity(t *testing.T) {
	m := newTestManager(t, nil)
	c := addConn(t, m)

	c.SetIdentity("u-1", []string{"trade", "read", "read"})
	assert.True(t, c.IsAuthenticated())
	assert.Equal(t, []string{"read", "trade"}, c.Permissions())
	assert.True(t, c.HasPermission("trade"))

	c.MarkLoggedOut()
	assert.False(t, c.IsAuthenticated())
	assert.True(t, c.LoggedOut())
	assert.Empty(t, c.Permissions())

	c.SetIdentity("u-2", nil)
	assert.False(t, c.LoggedOut())
}
