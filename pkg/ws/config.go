package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Config 网关配置
type Config struct {
	// 连接配置
	MaxConnections   int           `mapstructure:"max_connections"`   // 最大连接数
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`  // 读缓冲区大小
	WriteBufferSize  int           `mapstructure:"write_buffer_size"` // 写缓冲区大小
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"` // 握手超时时间
	MaxMessageSize   int64         `mapstructure:"max_message_size"`  // 最大消息大小
	WriteWait        time.Duration `mapstructure:"write_wait"`        // 单次写超时
	MessageQueueSize int           `mapstructure:"message_queue_size"`

	// 心跳配置，超时为 3 倍间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// 限流
	MaxMessagesPerMinute      int `mapstructure:"max_messages_per_minute"`
	MaxSubscriptionsPerHour   int `mapstructure:"max_subscriptions_per_hour"`
	MaxSubscriptionsPerClient int `mapstructure:"max_subscriptions_per_client"`

	// 连续 N 帧无法解析后以 1008 关闭
	MaxInvalidFrames int `mapstructure:"max_invalid_frames"`
	// 连续 N 次投递失败后以 3009 关闭
	SlowConsumerThreshold int `mapstructure:"slow_consumer_threshold"`

	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`

	// 广播配置
	Broadcast BroadcastConfig `mapstructure:"broadcast"`

	// Origin
	AllowedOrigins    []string                 `mapstructure:"allowed_origins"`
	AllowAllOrigins   bool                     `mapstructure:"allow_all_origins"`
	EnableCompression bool                     `mapstructure:"enable_compression"`
	CheckOrigin       func(*http.Request) bool `mapstructure:"-"`

	// 监控
	Metrics Metrics `mapstructure:"-"`
}

// BroadcastConfig 广播配置
type BroadcastConfig struct {
	MaxInFlight int           `mapstructure:"max_in_flight"` // 并发投递上限
	SendTimeout time.Duration `mapstructure:"send_timeout"`  // 单个客户端等待队列空间的上限
}

// Limits 可热更新的连接限额
type Limits struct {
	MaxMessagesPerMinute      int
	MaxSubscriptionsPerHour   int
	MaxSubscriptionsPerClient int
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:            10000,
		ReadBufferSize:            1024,
		WriteBufferSize:           1024,
		HandshakeTimeout:          10 * time.Second,
		MaxMessageSize:            64 * 1024,
		WriteWait:                 10 * time.Second,
		MessageQueueSize:          256,
		HeartbeatInterval:         30 * time.Second,
		MaxMessagesPerMinute:      120,
		MaxSubscriptionsPerHour:   100,
		MaxSubscriptionsPerClient: 50,
		MaxInvalidFrames:          10,
		SlowConsumerThreshold:     16,
		HandlerTimeout:            10 * time.Second,
		Broadcast: BroadcastConfig{
			MaxInFlight: 100,
			SendTimeout: 5 * time.Second,
		},
	}
}

// setDefaults 填充零值字段
func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.MaxConnections == 0 {
		c.MaxConnections = d.MaxConnections
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.WriteWait == 0 {
		c.WriteWait = d.WriteWait
	}
	if c.MessageQueueSize == 0 {
		c.MessageQueueSize = d.MessageQueueSize
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.MaxInvalidFrames == 0 {
		c.MaxInvalidFrames = d.MaxInvalidFrames
	}
	if c.SlowConsumerThreshold == 0 {
		c.SlowConsumerThreshold = d.SlowConsumerThreshold
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = d.HandlerTimeout
	}
	if c.Broadcast.MaxInFlight == 0 {
		c.Broadcast.MaxInFlight = d.Broadcast.MaxInFlight
	}
	if c.Broadcast.SendTimeout == 0 {
		c.Broadcast.SendTimeout = d.Broadcast.SendTimeout
	}
	if c.Metrics == nil {
		c.Metrics = NoopMetrics{}
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: max_connections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0 {
		return fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max_message_size must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: heartbeat_interval must be positive, got %v", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.WriteWait <= 0 || c.WriteWait >= c.HeartbeatInterval*3 {
		return fmt.Errorf("%w: write_wait (%v) must be positive and below the heartbeat timeout", ErrInvalidConfig, c.WriteWait)
	}
	if c.MessageQueueSize <= 0 {
		return fmt.Errorf("%w: message_queue_size must be positive, got %d", ErrInvalidConfig, c.MessageQueueSize)
	}
	if c.MaxMessagesPerMinute < 0 || c.MaxSubscriptionsPerHour < 0 || c.MaxSubscriptionsPerClient < 0 {
		return fmt.Errorf("%w: rate limits cannot be negative", ErrInvalidConfig)
	}
	if c.MaxInvalidFrames <= 0 {
		return fmt.Errorf("%w: max_invalid_frames must be positive, got %d", ErrInvalidConfig, c.MaxInvalidFrames)
	}
	if c.SlowConsumerThreshold <= 0 {
		return fmt.Errorf("%w: slow_consumer_threshold must be positive, got %d", ErrInvalidConfig, c.SlowConsumerThreshold)
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("%w: handler_timeout must be positive, got %v", ErrInvalidConfig, c.HandlerTimeout)
	}
	if c.Broadcast.MaxInFlight <= 0 {
		return fmt.Errorf("%w: broadcast.max_in_flight must be positive, got %d", ErrInvalidConfig, c.Broadcast.MaxInFlight)
	}
	if c.Broadcast.SendTimeout <= 0 {
		return fmt.Errorf("%w: broadcast.send_timeout must be positive, got %v", ErrInvalidConfig, c.Broadcast.SendTimeout)
	}
	return nil
}

// HeartbeatTimeout 心跳超时
func (c *Config) HeartbeatTimeout() time.Duration {
	return 3 * c.HeartbeatInterval
}

// Limits 当前限额
func (c *Config) Limits() Limits {
	return Limits{
		MaxMessagesPerMinute:      c.MaxMessagesPerMinute,
		MaxSubscriptionsPerHour:   c.MaxSubscriptionsPerHour,
		MaxSubscriptionsPerClient: c.MaxSubscriptionsPerClient,
	}
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) {
		c.MaxConnections = max
	}
}

// WithHeartbeatInterval 设置心跳间隔
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
	}
}

// WithRateLimits 设置限流
func WithRateLimits(messagesPerMinute, subscriptionsPerHour, subscriptionsPerClient int) Option {
	return func(c *Config) {
		c.MaxMessagesPerMinute = messagesPerMinute
		c.MaxSubscriptionsPerHour = subscriptionsPerHour
		c.MaxSubscriptionsPerClient = subscriptionsPerClient
	}
}

// WithMessageQueueSize 设置发送队列大小
func WithMessageQueueSize(size int) Option {
	return func(c *Config) {
		c.MessageQueueSize = size
	}
}

// WithHandlerTimeout 设置处理器超时
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.HandlerTimeout = d
	}
}

// WithBroadcast 设置广播并发与超时
func WithBroadcast(maxInFlight int, sendTimeout time.Duration) Option {
	return func(c *Config) {
		c.Broadcast = BroadcastConfig{MaxInFlight: maxInFlight, SendTimeout: sendTimeout}
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) {
		c.CheckOrigin = fn
	}
}

// WithCheckOriginWhitelist 设置 Origin 白名单
// 示例：WithCheckOriginWhitelist([]string{"https://example.com", "https://app.example.com"})
func WithCheckOriginWhitelist(allowedOrigins []string) Option {
	return func(c *Config) {
		c.AllowedOrigins = allowedOrigins
		c.CheckOrigin = createWhitelistChecker(allowedOrigins)
	}
}

// WithAllowAllOrigins 允许所有来源（仅用于开发环境，生产环境禁用）
func WithAllowAllOrigins() Option {
	return func(c *Config) {
		c.AllowAllOrigins = true
	}
}

// WithMetrics 设置监控
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// defaultCheckOrigin 默认 Origin 检查（同源策略）
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// 非浏览器客户端不带 Origin
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// createWhitelistChecker 创建白名单检查器
func createWhitelistChecker(allowedOrigins []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		whitelist[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// 白名单模式下拒绝空 Origin
			return false
		}
		return whitelist[origin]
	}
}

// newUpgrader 创建升级器
func newUpgrader(c *Config) *websocket.Upgrader {
	checkOrigin := c.CheckOrigin
	switch {
	case checkOrigin != nil:
	case c.AllowAllOrigins:
		checkOrigin = func(*http.Request) bool { return true }
	case len(c.AllowedOrigins) > 0:
		checkOrigin = createWhitelistChecker(c.AllowedOrigins)
	default:
		checkOrigin = defaultCheckOrigin
	}

	return &websocket.Upgrader{
		HandshakeTimeout:  c.HandshakeTimeout,
		ReadBufferSize:    c.ReadBufferSize,
		WriteBufferSize:   c.WriteBufferSize,
		CheckOrigin:       checkOrigin,
		EnableCompression: c.EnableCompression,
	}
}
