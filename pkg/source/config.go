package source

import (
	"fmt"
	"time"
)

// Config 事件源配置，未配置的源不启动
type Config struct {
	Kafka *KafkaConfig `mapstructure:"kafka"`
	AMQP  *AMQPConfig  `mapstructure:"amqp"`
	Dedup DedupConfig  `mapstructure:"dedup"`
}

// KafkaConfig Kafka 消费组
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  []string `mapstructure:"topics"`
	GroupID string   `mapstructure:"group_id"`
	Version string   `mapstructure:"version"` // 如 3.6.0，空则使用 sarama 默认
	// newest | oldest
	InitialOffset string `mapstructure:"initial_offset"`
	ClientID      string `mapstructure:"client_id"`
}

// AMQPConfig RabbitMQ 队列
type AMQPConfig struct {
	URL          string        `mapstructure:"url"`
	Queue        string        `mapstructure:"queue"`
	Exchange     string        `mapstructure:"exchange"`
	RoutingKeys  []string      `mapstructure:"routing_keys"`
	Prefetch     int           `mapstructure:"prefetch"`
	ConsumerTag  string        `mapstructure:"consumer_tag"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// DedupConfig 去重窗口
type DedupConfig struct {
	Capacity      uint          `mapstructure:"capacity"` // 每个窗口预计事件数
	FalsePositive float64       `mapstructure:"false_positive"`
	Window        time.Duration `mapstructure:"window"`
}

func (c *DedupConfig) setDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 1_000_000
	}
	if c.FalsePositive == 0 {
		c.FalsePositive = 0.0001
	}
	if c.Window == 0 {
		c.Window = 10 * time.Minute
	}
}

func (c *KafkaConfig) setDefaults() {
	if c.GroupID == "" {
		c.GroupID = "pushgate"
	}
	if c.InitialOffset == "" {
		c.InitialOffset = "newest"
	}
	if c.ClientID == "" {
		c.ClientID = "pushgate"
	}
}

func (c *AMQPConfig) setDefaults() {
	if c.Prefetch == 0 {
		c.Prefetch = 256
	}
	if c.ConsumerTag == "" {
		c.ConsumerTag = "pushgate"
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 2 * time.Second
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	c.Dedup.setDefaults()
	if c.Dedup.FalsePositive <= 0 || c.Dedup.FalsePositive >= 1 {
		return fmt.Errorf("%w: dedup false_positive must be in (0, 1)", ErrInvalidConfig)
	}
	if c.Dedup.Window < 0 {
		return fmt.Errorf("%w: dedup window must not be negative", ErrInvalidConfig)
	}
	if k := c.Kafka; k != nil {
		k.setDefaults()
		if len(k.Brokers) == 0 || len(k.Topics) == 0 {
			return fmt.Errorf("%w: kafka brokers and topics are required", ErrInvalidConfig)
		}
		if k.InitialOffset != "newest" && k.InitialOffset != "oldest" {
			return fmt.Errorf("%w: kafka initial_offset must be newest or oldest", ErrInvalidConfig)
		}
	}
	if a := c.AMQP; a != nil {
		a.setDefaults()
		if a.URL == "" || a.Queue == "" {
			return fmt.Errorf("%w: amqp url and queue are required", ErrInvalidConfig)
		}
		if len(a.RoutingKeys) > 0 && a.Exchange == "" {
			return fmt.Errorf("%w: amqp routing_keys require an exchange", ErrInvalidConfig)
		}
	}
	return nil
}
