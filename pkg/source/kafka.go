package source

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
)

// KafkaSource Kafka 消费组事件源
type KafkaSource struct {
	cfg   *KafkaConfig
	group sarama.ConsumerGroup
	h     *kafkaHandler
	log   logger.Logger
}

// NewKafkaSource 创建消费组（会立即连接 broker）
func NewKafkaSource(cfg *KafkaConfig, d *Dispatcher, log logger.Logger) (*KafkaSource, error) {
	if d == nil || log == nil {
		return nil, ErrInvalidConfig.WithMessage("dispatcher and logger are required")
	}
	sc, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	log = log.With(zap.String("source", "kafka"), zap.String("group", cfg.GroupID))
	return &KafkaSource{
		cfg:   cfg,
		group: group,
		h:     &kafkaHandler{d: d, log: log},
		log:   log,
	}, nil
}

func saramaConfig(cfg *KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.InitialOffset == "oldest" {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("%w: kafka version: %v", ErrInvalidConfig, err)
		}
		sc.Version = v
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return sc, nil
}

// Name 事件源名称
func (s *KafkaSource) Name() string { return "kafka" }

// Run 加入消费组并持续消费，rebalance 后重新 Consume
func (s *KafkaSource) Run(ctx context.Context) error {
	go func() {
		for err := range s.group.Errors() {
			s.log.Warn("kafka consumer error", zap.Error(err))
		}
	}()

	s.log.Info("kafka source started", zap.Strings("topics", s.cfg.Topics), zap.Strings("brokers", s.cfg.Brokers))
	for {
		if err := s.group.Consume(ctx, s.cfg.Topics, s.h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			s.log.Error("kafka consume failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close 离开消费组
func (s *KafkaSource) Close() error {
	return s.group.Close()
}

// kafkaHandler 实现 sarama.ConsumerGroupHandler
type kafkaHandler struct {
	d   *Dispatcher
	log logger.Logger
}

func (h *kafkaHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *kafkaHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim 非法消息同样提交位移，避免阻塞分区
func (h *kafkaHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if _, err := h.d.Dispatch(ctx, msg.Value); err != nil {
				h.log.Warn("kafka message dropped",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			sess.MarkMessage(msg, "")
		case <-ctx.Done():
			return nil
		}
	}
}
