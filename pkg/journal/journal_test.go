package journal

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/orm"
	"github.com/tokmz/pushgate/pkg/ws"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:journal_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := orm.New(&orm.Config{Type: orm.SQLite, DSN: dsn, MaxOpenConns: 1, MaxIdleConns: 1}, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = orm.Close(db) })
	return db
}

func newTestJournal(t *testing.T, cfg *Config) *Journal {
	t.Helper()
	j, err := New(newTestDB(t), cfg, logger.NewNop())
	require.NoError(t, err)
	return j
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(newTestDB(t), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(newTestDB(t), &Config{QueueSize: 10, BatchSize: 20}, logger.NewNop())
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRecordAndFlushOnClose(t *testing.T) {
	j := newTestJournal(t, &Config{QueueSize: 64, BatchSize: 8, FlushInterval: time.Hour})
	base := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		ok := j.Record(ws.Event{
			Type:     ws.EventSubscribed,
			ClientID: "c-1",
			UserID:   "u-1",
			Stream:   fmt.Sprintf("quotes.%d", i),
			Metadata: ws.Metadata{IP: "10.0.0.1", UserAgent: "test"},
			Time:     base.Add(time.Duration(i) * time.Second),
		})
		require.True(t, ok)
	}
	require.True(t, j.Record(ws.Event{Type: ws.EventConnected, ClientID: "c-2", Time: base}))

	require.NoError(t, j.Close(context.Background()))
	assert.Equal(t, int64(11), j.Written())
	assert.Zero(t, j.Dropped())

	entries, err := j.Recent(context.Background(), "c-1", 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "quotes.9", entries[0].Stream)
	assert.Equal(t, "quotes.7", entries[2].Stream)
	assert.Equal(t, string(ws.EventSubscribed), entries[0].Event)
	assert.Equal(t, "10.0.0.1", entries[0].IP)

	// 关闭后不再接收
	assert.False(t, j.Record(ws.Event{Type: ws.EventConnected, ClientID: "c-3"}))
	assert.NoError(t, j.Close(context.Background()))
}

func TestFlushOnInterval(t *testing.T) {
	j := newTestJournal(t, &Config{QueueSize: 16, BatchSize: 16, FlushInterval: 20 * time.Millisecond})
	t.Cleanup(func() { _ = j.Close(context.Background()) })

	require.True(t, j.Record(ws.Event{Type: ws.EventDisconnected, ClientID: "c-1", Reason: "heartbeat_timeout"}))
	assert.Eventually(t, func() bool { return j.Written() == 1 }, 2*time.Second, 10*time.Millisecond)

	entries, err := j.Recent(context.Background(), "c-1", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "heartbeat_timeout", entries[0].Reason)
	assert.False(t, entries[0].OccurredAt.IsZero())
}

func TestAttachFiltersEvents(t *testing.T) {
	j := newTestJournal(t, &Config{QueueSize: 16, BatchSize: 16, FlushInterval: time.Hour,
		Events: []string{string(ws.EventDisconnected)}})

	bus := ws.NewEventBus(1, 16)
	j.Attach(bus)
	bus.Publish(ws.Event{Type: ws.EventConnected, ClientID: "c-1"})
	bus.Publish(ws.Event{Type: ws.EventDisconnected, ClientID: "c-1", Reason: "normal"})
	bus.Close()

	require.NoError(t, j.Close(context.Background()))
	entries, err := j.Recent(context.Background(), "c-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(ws.EventDisconnected), entries[0].Event)
}

func TestRecordDropsWhenQueueFull(t *testing.T) {
	j := newTestJournal(t, &Config{QueueSize: 1, BatchSize: 1, FlushInterval: time.Hour})
	t.Cleanup(func() { _ = j.Close(context.Background()) })

	accepted := 0
	for i := 0; i < 200; i++ {
		if j.Record(ws.Event{Type: ws.EventConnected, ClientID: strings.Repeat("x", i%5+1)}) {
			accepted++
		}
	}
	assert.Equal(t, int64(200-accepted), j.Dropped())
}
