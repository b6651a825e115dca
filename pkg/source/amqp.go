package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
)

// AMQPSource RabbitMQ 队列事件源，连接断开后按 RetryBackoff 重连
type AMQPSource struct {
	cfg *AMQPConfig
	d   *Dispatcher
	log logger.Logger

	mu     sync.Mutex
	conn   *amqp.Connection
	closed bool
}

// NewAMQPSource 创建事件源，连接在 Run 中建立
func NewAMQPSource(cfg *AMQPConfig, d *Dispatcher, log logger.Logger) (*AMQPSource, error) {
	if d == nil || log == nil {
		return nil, ErrInvalidConfig.WithMessage("dispatcher and logger are required")
	}
	if _, err := amqp.ParseURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("%w: amqp url: %v", ErrInvalidConfig, err)
	}
	return &AMQPSource{
		cfg: cfg,
		d:   d,
		log: log.With(zap.String("source", "amqp"), zap.String("queue", cfg.Queue)),
	}, nil
}

// Name 事件源名称
func (s *AMQPSource) Name() string { return "amqp" }

// Run 消费直到 ctx 取消或 Close
func (s *AMQPSource) Run(ctx context.Context) error {
	for {
		err := s.consume(ctx)
		if ctx.Err() != nil || s.isClosed() {
			return nil
		}
		s.log.Warn("amqp consumer interrupted, reconnecting", zap.Error(err), zap.Duration("backoff", s.cfg.RetryBackoff))

		timer := time.NewTimer(s.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *AMQPSource) consume(ctx context.Context) error {
	conn, err := amqp.Dial(s.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if !s.setConn(conn) {
		_ = conn.Close()
		return nil
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	q, err := ch.QueueDeclare(s.cfg.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range s.cfg.RoutingKeys {
		if err := ch.QueueBind(q.Name, key, s.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(q.Name, s.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	s.log.Info("amqp source started", zap.Strings("routing_keys", s.cfg.RoutingKeys))
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				return errors.New("amqp_closed", "connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp_closed", "delivery channel closed")
			}
			s.handle(ctx, d)
		}
	}
}

// handle 非法信封直接丢弃（不重新入队），其余确认
func (s *AMQPSource) handle(ctx context.Context, d amqp.Delivery) {
	if _, err := s.d.Dispatch(ctx, d.Body); err != nil {
		s.log.Warn("amqp message rejected", zap.String("message_id", d.MessageId), zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			s.log.Error("amqp nack failed", zap.Error(nackErr))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		s.log.Error("amqp ack failed", zap.Error(err))
	}
}

func (s *AMQPSource) setConn(conn *amqp.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	return true
}

func (s *AMQPSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close 关闭当前连接并停止重连
func (s *AMQPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil && !s.conn.IsClosed() {
		return s.conn.Close()
	}
	return nil
}
