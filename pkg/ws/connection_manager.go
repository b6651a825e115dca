package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/logger"
)

// ConnectionManager 活跃连接表
//
// 负责容量上限、心跳超时、每连接限流与非阻塞投递。
type ConnectionManager struct {
	conns    sync.Map     // clientID -> *Conn
	count    atomic.Int64 // 连接数
	maxConns int

	heartbeatInterval time.Duration
	slowThreshold     int32
	limits            atomic.Pointer[Limits]

	metrics Metrics
	stats   *counters
	log     logger.Logger
	now     func() time.Time
}

// NewConnectionManager 创建连接管理器
func NewConnectionManager(cfg *Config, log logger.Logger) *ConnectionManager {
	m := &ConnectionManager{
		maxConns:          cfg.MaxConnections,
		heartbeatInterval: cfg.HeartbeatInterval,
		slowThreshold:     int32(cfg.SlowConsumerThreshold),
		metrics:           cfg.Metrics,
		stats:             &counters{},
		log:               log.With(zap.String("component", "connection_manager")),
		now:               time.Now,
	}
	if m.metrics == nil {
		m.metrics = NoopMetrics{}
	}
	limits := cfg.Limits()
	m.limits.Store(&limits)
	return m
}

// Limits 当前限额
func (m *ConnectionManager) Limits() Limits {
	return *m.limits.Load()
}

// SetLimits 热更新限额，对已有连接立即生效
func (m *ConnectionManager) SetLimits(l Limits) {
	m.limits.Store(&l)
	m.Range(func(c *Conn) bool {
		c.msgLimiter.SetLimit(l.MaxMessagesPerMinute)
		c.subLimiter.SetLimit(l.MaxSubscriptionsPerHour)
		return true
	})
	m.log.Info("connection limits updated",
		zap.Int("max_messages_per_minute", l.MaxMessagesPerMinute),
		zap.Int("max_subscriptions_per_hour", l.MaxSubscriptionsPerHour),
	)
}

// newConn 按当前限额创建连接
func (m *ConnectionManager) newConn(ws *websocket.Conn, meta Metadata, queueSize int) *Conn {
	return newConn(ws, meta, queueSize, m.Limits(), m.now)
}

// reserve 先占用容量，超限时回滚
func (m *ConnectionManager) reserve() bool {
	if int(m.count.Add(1)) > m.maxConns {
		m.count.Add(-1)
		return false
	}
	return true
}

// Add 分配新的 client_id 并登记，容量已满返回 ErrCapacityExceeded
func (m *ConnectionManager) Add(c *Conn) error {
	if !m.reserve() {
		m.stats.rejected.Add(1)
		m.metrics.IncrementRejectedConnections(ReasonCapacityExceeded)
		return ErrCapacityExceeded
	}
	for {
		c.id = newClientID()
		if _, loaded := m.conns.LoadOrStore(c.id, c); !loaded {
			break
		}
	}
	m.metrics.IncrementConnections()
	return nil
}

// Restore 以旧 client_id 登记，该 ID 仍在线或容量已满时失败
func (m *ConnectionManager) Restore(oldID string, c *Conn) bool {
	if !m.reserve() {
		return false
	}
	c.id = oldID
	if _, loaded := m.conns.LoadOrStore(oldID, c); loaded {
		m.count.Add(-1)
		c.id = ""
		return false
	}
	m.metrics.IncrementConnections()
	return true
}

// Release 仅当表中仍是同一个连接时删除
func (m *ConnectionManager) Release(c *Conn, reason string) bool {
	if !m.conns.CompareAndDelete(c.id, c) {
		return false
	}
	m.count.Add(-1)
	m.metrics.DecrementConnections()
	m.log.Debug("connection removed", zap.String("client_id", c.id), zap.String("reason", reason))
	return true
}

// Remove 按 ID 移除并关闭连接
func (m *ConnectionManager) Remove(id, reason string) bool {
	c, ok := m.Get(id)
	if !ok {
		return false
	}
	c.Close(CloseNormal, reason)
	return m.Release(c, reason)
}

// Disconnect 以指定关闭码断开，清理由生命周期完成
func (m *ConnectionManager) Disconnect(id string, code int, reason string) bool {
	c, ok := m.Get(id)
	if !ok {
		return false
	}
	c.Close(code, reason)
	return true
}

// Get 获取连接
func (m *ConnectionManager) Get(id string) (*Conn, bool) {
	v, ok := m.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Conn), true
}

// Count 连接数
func (m *ConnectionManager) Count() int {
	return int(m.count.Load())
}

// Range 遍历所有连接
func (m *ConnectionManager) Range(f func(*Conn) bool) {
	m.conns.Range(func(_, value any) bool {
		return f(value.(*Conn))
	})
}

// Send 序列化并非阻塞投递，队列已满返回 false
func (m *ConnectionManager) Send(id string, frame any) bool {
	c, ok := m.Get(id)
	if !ok {
		return false
	}
	data, err := json.Marshal(frame)
	if err != nil {
		m.log.Error("marshal frame failed", zap.String("client_id", id), zap.Error(err))
		return false
	}
	return m.deliver(c, data)
}

// deliver 投递并统计连续失败
func (m *ConnectionManager) deliver(c *Conn, data []byte) bool {
	return m.recordSend(c, c.enqueue(data))
}

// recordSend 连续失败达到阈值时以 slow_consumer 关闭
func (m *ConnectionManager) recordSend(c *Conn, ok bool) bool {
	if ok {
		c.sendFailures.Store(0)
		return true
	}
	m.stats.dropped.Add(1)
	m.metrics.IncrementDroppedMessages()
	if n := c.sendFailures.Add(1); n >= m.slowThreshold {
		select {
		case <-c.closed:
		default:
			m.log.Warn("closing slow consumer", zap.String("client_id", c.id), zap.Int32("failures", n))
			c.Close(CloseSlowConsumer, ReasonSlowConsumer)
		}
	}
	return false
}

// TouchHeartbeat 刷新心跳时间
func (m *ConnectionManager) TouchHeartbeat(id string) bool {
	c, ok := m.Get(id)
	if !ok {
		return false
	}
	c.touch(m.now())
	return true
}

// AllowMessage 消息速率检查
func (m *ConnectionManager) AllowMessage(id string) bool {
	c, ok := m.Get(id)
	if !ok {
		return false
	}
	return c.msgLimiter.Allow()
}

// AllowSubscription 订阅速率检查
func (m *ConnectionManager) AllowSubscription(id string) bool {
	c, ok := m.Get(id)
	if !ok {
		return false
	}
	return c.subLimiter.Allow()
}

// RunHeartbeatMonitor 周期扫描并关闭心跳超时的连接，直到 ctx 结束
func (m *ConnectionManager) RunHeartbeatMonitor(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHeartbeats()
		}
	}
}

// checkHeartbeats 返回被关闭的连接数
func (m *ConnectionManager) checkHeartbeats() int {
	timeout := 3 * m.heartbeatInterval
	now := m.now()
	closed := 0
	m.Range(func(c *Conn) bool {
		if now.Sub(c.LastHeartbeat()) > timeout {
			m.log.Info("heartbeat timeout", zap.String("client_id", c.id), zap.Time("last_heartbeat", c.LastHeartbeat()))
			c.Close(CloseHeartbeatTimeout, ReasonHeartbeatTimeout)
			closed++
		}
		return true
	})
	return closed
}

// CloseAll 关闭所有连接
func (m *ConnectionManager) CloseAll(code int, reason string) {
	m.Range(func(c *Conn) bool {
		c.Close(code, reason)
		return true
	})
}
