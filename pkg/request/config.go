package request

import (
	"net/http"
	"time"

	"github.com/tokmz/pushgate/pkg/logger"
)

// Config 服务间调用客户端配置
type Config struct {
	Timeout     time.Duration     // 单次请求超时（默认 10s）
	Headers     map[string]string // 每个请求都带上的请求头
	BearerToken string            // 非空时设置 Authorization: Bearer
	Retry       *RetryConfig      // nil 不重试
	Logger      logger.Logger     // nil 不记录
	Tracing     bool              // 创建 client span 并注入 traceparent
	Transport   http.RoundTripper // 默认 http.DefaultTransport
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
		Headers: make(map[string]string),
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithTimeout 设置单次请求超时
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHeader 设置默认请求头
func WithHeader(key, value string) Option {
	return func(c *Config) { c.Headers[key] = value }
}

// WithBearerToken 设置服务凭据
func WithBearerToken(token string) Option {
	return func(c *Config) { c.BearerToken = token }
}

// WithRetry 设置重试策略
func WithRetry(cfg *RetryConfig) Option {
	return func(c *Config) { c.Retry = cfg }
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithTracing 启用链路追踪
func WithTracing(enable bool) Option {
	return func(c *Config) { c.Tracing = enable }
}

// WithTransport 自定义 Transport（测试用）
func WithTransport(t http.RoundTripper) Option {
	return func(c *Config) { c.Transport = t }
}
