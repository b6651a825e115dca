package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/pushgate/pkg/logger"
)

type quote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *ConnectionManager, *SubscriptionManager) {
	t.Helper()
	cfg := testConfig(WithBroadcast(10, 20*time.Millisecond))
	m := newTestManager(t, nil, WithBroadcast(10, 20*time.Millisecond))
	subs := NewSubscriptionManager(0)
	b, err := NewBroadcaster(m, subs, cfg, logger.NewNop())
	require.NoError(t, err)
	return b, m, subs
}

func TestPublishSkipsFailedClient(t *testing.T) {
	b, m, subs := newTestBroadcaster(t)
	a, bad, c := addConn(t, m), addConn(t, m), addConn(t, m)
	for _, conn := range []*Conn{a, bad, c} {
		require.NoError(t, subs.Subscribe(conn.ID(), "market_data", nil))
	}
	bad.Close(CloseNormal, ReasonNormal)

	n := b.Publish(context.Background(), "market_data", quote{Symbol: "AAPL", Price: 189.5})
	assert.Equal(t, 2, n)

	for _, conn := range []*Conn{a, c} {
		frames := drain(conn)
		require.Len(t, frames, 1)
		assert.JSONEq(t, `{"type":"data","stream":"market_data","data":{"symbol":"AAPL","price":189.5}}`, string(frames[0]))
	}
	assert.Equal(t, int64(2), b.stats.delivered.Load())
	assert.Equal(t, int64(1), b.stats.deliveryFailures.Load())
}

func TestPublishAppliesFiltersOncePerClient(t *testing.T) {
	b, m, subs := newTestBroadcaster(t)
	both, aapl, msft, all := addConn(t, m), addConn(t, m), addConn(t, m), addConn(t, m)

	require.NoError(t, subs.Subscribe(both.ID(), "quotes", Filter{"symbol": "AAPL"}))
	require.NoError(t, subs.Subscribe(both.ID(), "quotes", Filter{"price": "10"}))
	require.NoError(t, subs.Subscribe(aapl.ID(), "quotes", Filter{"symbol": "AAPL"}))
	require.NoError(t, subs.Subscribe(msft.ID(), "quotes", Filter{"symbol": "MSFT"}))
	require.NoError(t, subs.Subscribe(all.ID(), "quotes", nil))

	n := b.Publish(context.Background(), "quotes", map[string]any{"symbol": "AAPL", "price": 10})
	assert.Equal(t, 3, n)
	assert.Len(t, drain(both), 1)
	assert.Len(t, drain(aapl), 1)
	assert.Empty(t, drain(msft))
	assert.Len(t, drain(all), 1)

	// 非对象负载只投递给无条件订阅者
	n = b.Publish(context.Background(), "quotes", []int{1, 2, 3})
	assert.Equal(t, 1, n)
	assert.Len(t, drain(all), 1)
}

func TestPublishExclude(t *testing.T) {
	b, m, subs := newTestBroadcaster(t)
	origin, other := addConn(t, m), addConn(t, m)
	require.NoError(t, subs.Subscribe(origin.ID(), "orders", nil))
	require.NoError(t, subs.Subscribe(other.ID(), "orders", nil))

	n := b.Publish(context.Background(), "orders", json.RawMessage(`{"id":1}`), WithExclude(origin.ID()))
	assert.Equal(t, 1, n)
	assert.Empty(t, drain(origin))
	assert.Len(t, drain(other), 1)
}

func TestPublishNoSubscribers(t *testing.T) {
	b, _, _ := newTestBroadcaster(t)
	assert.Equal(t, 0, b.Publish(context.Background(), "nobody", quote{}))
}

func TestPublishUnmarshalablePayload(t *testing.T) {
	b, m, subs := newTestBroadcaster(t)
	c := addConn(t, m)
	require.NoError(t, subs.Subscribe(c.ID(), "x", nil))
	assert.Equal(t, 0, b.Publish(context.Background(), "x", make(chan int)))
	assert.Empty(t, drain(c))
}

func TestPublishFullQueueTimesOut(t *testing.T) {
	b, m, subs := newTestBroadcaster(t)
	slow, fast := addConn(t, m), addConn(t, m)
	require.NoError(t, subs.Subscribe(slow.ID(), "market_data", nil))
	require.NoError(t, subs.Subscribe(fast.ID(), "market_data", nil))
	for i := 0; i < cap(slow.send); i++ {
		require.True(t, slow.enqueue([]byte(`{}`)))
	}

	start := time.Now()
	n := b.Publish(context.Background(), "market_data", quote{Symbol: "AAPL"})
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, int32(1), slow.sendFailures.Load())
}

func TestNewBroadcasterRequiresDependencies(t *testing.T) {
	_, err := NewBroadcaster(nil, NewSubscriptionManager(0), testConfig(), logger.NewNop())
	assert.ErrorIs(t, err, ErrMissingDependency)
}
