package ws

import (
	"sync"
	"testing"
	"time"

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

func testConfig(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.setDefaults()
	return cfg
}

func newTestManager(t *testing.T, clock *fakeClock, opts ...Option) *ConnectionManager {
	t.Helper()
	m := NewConnectionManager(testConfig(opts...), logger.NewNop())
	if clock != nil {
		m.now = clock.Now
	}
	return m
}

// addConn 登记一个没有底层 socket 的连接
func addConn(t *testing.T, m *ConnectionManager) *Conn {
	t.Helper()
	c := m.newConn(nil, Metadata{IP: "127.0.0.1", UserAgent: "test"}, 4)
	if err := m.Add(c); err != nil {
		t.Fatalf("add connection: %v", err)
	}
	return c
}

// drain 取出发送队列中已有的帧
func drain(c *Conn) [][]byte {
	var out [][]byte
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}
