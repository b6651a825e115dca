// Package source 从消息队列消费推送事件并交给网关广播。
//
// 每条消息是一个 JSON 信封：
//
//	{"id":"evt-1","stream":"market_data","data":{...},"exclude":["c-1"]}
//
// id 用于去重（at-least-once 投递下的重复消息），可省略。
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/ws"
)

var (
	ErrInvalidConfig   = errors.New("source_invalid_config", "invalid source config", http.StatusInternalServerError)
	ErrInvalidEnvelope = errors.ErrValidation.WithMessage("invalid envelope")
)

// Publisher 广播入口，*ws.Gateway 与 *ws.Broadcaster 均满足
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, opts ...ws.PublishOption) int
}

// Source 事件源
type Source interface {
	Name() string
	// Run 阻塞消费直到 ctx 取消
	Run(ctx context.Context) error
	Close() error
}

// Envelope 事件信封
type Envelope struct {
	ID      string          `json:"id,omitempty"`
	Stream  string          `json:"stream"`
	Data    json.RawMessage `json:"data"`
	Exclude []string        `json:"exclude,omitempty"`
}

// DecodeEnvelope 解析并校验信封
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidEnvelope.WithError(err)
	}
	if env.Stream == "" {
		return nil, ErrInvalidEnvelope.WithMessage("envelope stream is required")
	}
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, ErrInvalidEnvelope.WithMessage("envelope data is required")
	}
	return &env, nil
}

// DispatchStats 分发计数
type DispatchStats struct {
	Received   int64 `json:"received"`
	Duplicates int64 `json:"duplicates"`
	Invalid    int64 `json:"invalid"`
	Delivered  int64 `json:"delivered"`
}

// Dispatcher 解码、去重并广播，供各事件源共享
type Dispatcher struct {
	pub   Publisher
	dedup *Deduper
	log   logger.Logger

	received   atomic.Int64
	duplicates atomic.Int64
	invalid    atomic.Int64
	delivered  atomic.Int64
}

// NewDispatcher 创建分发器，dedup 为空时不去重
func NewDispatcher(pub Publisher, dedup *Deduper, log logger.Logger) (*Dispatcher, error) {
	if pub == nil {
		return nil, ErrInvalidConfig.WithMessage("publisher is required")
	}
	if log == nil {
		return nil, ErrInvalidConfig.WithMessage("logger is required")
	}
	return &Dispatcher{pub: pub, dedup: dedup, log: log}, nil
}

// Dispatch 处理一条原始消息，返回送达数
//
// 信封非法时返回 ErrInvalidEnvelope，调用方不应重试。
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) (int, error) {
	d.received.Add(1)
	env, err := DecodeEnvelope(raw)
	if err != nil {
		d.invalid.Add(1)
		return 0, err
	}
	if env.ID != "" && d.dedup != nil && d.dedup.Seen(env.ID) {
		d.duplicates.Add(1)
		d.log.DebugContext(ctx, "duplicate event skipped", zap.String("event_id", env.ID), zap.String("stream", env.Stream))
		return 0, nil
	}

	var opts []ws.PublishOption
	if len(env.Exclude) > 0 {
		opts = append(opts, ws.WithExclude(env.Exclude...))
	}
	n := d.pub.Publish(ctx, env.Stream, env.Data, opts...)
	d.delivered.Add(int64(n))
	return n, nil
}

// Stats 计数快照
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Received:   d.received.Load(),
		Duplicates: d.duplicates.Load(),
		Invalid:    d.invalid.Load(),
		Delivered:  d.delivered.Load(),
	}
}

// New 按配置创建全部事件源
func New(cfg *Config, d *Dispatcher, log logger.Logger) ([]Source, error) {
	if cfg == nil {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var sources []Source
	if cfg.Kafka != nil {
		s, err := NewKafkaSource(cfg.Kafka, d, log)
		if err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	if cfg.AMQP != nil {
		s, err := NewAMQPSource(cfg.AMQP, d, log)
		if err != nil {
			for _, prev := range sources {
				_ = prev.Close()
			}
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, nil
}
