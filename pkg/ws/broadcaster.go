package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/tracing"
)

// PublishOption 发布选项
type PublishOption func(*publishOptions)

type publishOptions struct {
	exclude map[string]struct{}
}

// WithExclude 不向这些客户端投递（通常是事件的发起方）
func WithExclude(clientIDs ...string) PublishOption {
	return func(o *publishOptions) {
		if o.exclude == nil {
			o.exclude = make(map[string]struct{}, len(clientIDs))
		}
		for _, id := range clientIDs {
			if id != "" {
				o.exclude[id] = struct{}{}
			}
		}
	}
}

// Broadcaster 主题广播
//
// 对订阅快照并发投递，每个客户端至多一次；并发数由信号量限制，
// 单个客户端等待队列空间不超过 SendTimeout，失败只计数不上抛。
type Broadcaster struct {
	conns       *ConnectionManager
	subs        *SubscriptionManager
	sem         *semaphore.Weighted
	sendTimeout time.Duration
	metrics     Metrics
	stats       *counters
	log         logger.Logger
}

// NewBroadcaster 创建广播器
func NewBroadcaster(conns *ConnectionManager, subs *SubscriptionManager, cfg *Config, log logger.Logger) (*Broadcaster, error) {
	if conns == nil || subs == nil {
		return nil, fmt.Errorf("%w: broadcaster requires connection and subscription managers", ErrMissingDependency)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Broadcaster{
		conns:       conns,
		subs:        subs,
		sem:         semaphore.NewWeighted(int64(cfg.Broadcast.MaxInFlight)),
		sendTimeout: cfg.Broadcast.SendTimeout,
		metrics:     metrics,
		stats:       &counters{},
		log:         log.With(zap.String("component", "broadcaster")),
	}, nil
}

// Publish 向主题订阅者投递数据帧，返回成功投递数
func (b *Broadcaster) Publish(ctx context.Context, topic string, payload any, opts ...PublishOption) int {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracing.StartSpan(ctx, "ws.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(attribute.String("ws.stream", topic)),
	)
	defer span.End()
	start := time.Now()

	data, err := json.Marshal(payload)
	if err != nil {
		tracing.RecordError(span, err)
		b.log.ErrorContext(ctx, "marshal payload failed", zap.String("stream", topic), zap.Error(err))
		return 0
	}

	recipients := b.recipients(topic, data, o.exclude)
	if len(recipients) == 0 {
		span.SetAttributes(attribute.Int("ws.recipients", 0))
		return 0
	}

	frame, err := json.Marshal(DataFrame{Type: TypeData, Stream: topic, Data: json.RawMessage(data)})
	if err != nil {
		tracing.RecordError(span, err)
		b.log.ErrorContext(ctx, "marshal data frame failed", zap.String("stream", topic), zap.Error(err))
		return 0
	}

	var (
		delivered atomic.Int64
		failed    atomic.Int64
		wg        sync.WaitGroup
	)
	for _, id := range recipients {
		c, ok := b.conns.Get(id)
		if !ok {
			failed.Add(1)
			continue
		}
		if err := b.sem.Acquire(ctx, 1); err != nil {
			failed.Add(1)
			continue
		}
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			defer b.sem.Release(1)

			sendCtx, cancel := context.WithTimeout(ctx, b.sendTimeout)
			defer cancel()
			if b.conns.recordSend(c, c.enqueueWait(sendCtx, frame)) {
				delivered.Add(1)
				return
			}
			failed.Add(1)
			b.log.DebugContext(ctx, "delivery failed", zap.String("stream", topic), zap.String("client_id", c.ID()))
		}(c)
	}
	wg.Wait()

	n, f := int(delivered.Load()), int(failed.Load())
	b.stats.broadcasts.Add(1)
	b.stats.delivered.Add(int64(n))
	b.stats.deliveryFailures.Add(int64(f))
	b.metrics.RecordBroadcast(topic, n, f, time.Since(start))
	span.SetAttributes(
		attribute.Int("ws.recipients", len(recipients)),
		attribute.Int("ws.delivered", n),
		attribute.Int("ws.failed", f),
	)
	if f > 0 {
		b.log.WarnContext(ctx, "broadcast partially failed",
			zap.String("stream", topic),
			zap.Int("delivered", n),
			zap.Int("failed", f),
		)
	}
	return n
}

// recipients 过滤后的接收者，每个客户端只出现一次
func (b *Broadcaster) recipients(topic string, data []byte, exclude map[string]struct{}) []string {
	entries := b.subs.Subscriptions(topic)
	if len(entries) == 0 {
		return nil
	}

	var (
		fields map[string]any
		parsed bool
	)
	matched := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, skip := exclude[e.ClientID]; skip {
			continue
		}
		if _, done := matched[e.ClientID]; done {
			continue
		}
		if len(e.Filter) > 0 {
			if !parsed {
				// 非对象负载无法匹配任何带条件的订阅
				_ = json.Unmarshal(data, &fields)
				parsed = true
			}
			if !e.Filter.Matches(fields) {
				continue
			}
		}
		matched[e.ClientID] = struct{}{}
		out = append(out, e.ClientID)
	}
	return out
}
