package ws

import (
	"sync/atomic"
	"time"
)

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	IncrementRejectedConnections(reason string)
	IncrementRestoredSessions()

	// 消息指标
	IncrementMessageCount(msgType string)
	RecordMessageLatency(msgType string, d time.Duration)
	IncrementMessageErrors(msgType, code string)

	// 广播指标
	RecordBroadcast(topic string, delivered, failed int, d time.Duration)
	IncrementDroppedMessages()

	// 错误指标
	IncrementInvalidFrames()
	IncrementClosed(reason string)
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (NoopMetrics) IncrementConnections()                           {}
func (NoopMetrics) DecrementConnections()                           {}
func (NoopMetrics) IncrementRejectedConnections(string)             {}
func (NoopMetrics) IncrementRestoredSessions()                      {}
func (NoopMetrics) IncrementMessageCount(string)                    {}
func (NoopMetrics) RecordMessageLatency(string, time.Duration)      {}
func (NoopMetrics) IncrementMessageErrors(string, string)           {}
func (NoopMetrics) RecordBroadcast(string, int, int, time.Duration) {}
func (NoopMetrics) IncrementDroppedMessages()                       {}
func (NoopMetrics) IncrementInvalidFrames()                         {}
func (NoopMetrics) IncrementClosed(string)                          {}

// Stats 网关计数快照
type Stats struct {
	Connections      int   `json:"connections"`
	Accepted         int64 `json:"accepted"`
	Rejected         int64 `json:"rejected"`
	Restored         int64 `json:"restored"`
	MessagesRouted   int64 `json:"messages_routed"`
	MessageErrors    int64 `json:"message_errors"`
	Broadcasts       int64 `json:"broadcasts"`
	Delivered        int64 `json:"delivered"`
	DeliveryFailures int64 `json:"delivery_failures"`
	Dropped          int64 `json:"dropped"`
	DroppedEvents    int64 `json:"dropped_events"`
}

// counters 网关内置计数，始终记录，外部 Metrics 另行上报
type counters struct {
	accepted         atomic.Int64
	rejected         atomic.Int64
	restored         atomic.Int64
	messagesRouted   atomic.Int64
	messageErrors    atomic.Int64
	broadcasts       atomic.Int64
	delivered        atomic.Int64
	deliveryFailures atomic.Int64
	dropped          atomic.Int64
}
