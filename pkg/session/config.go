package session

import (
	"fmt"
	"time"
)

// 后端类型
const (
	BackendMemory = "memory"
	BackendCache  = "cache"
)

// Config 会话存储配置
type Config struct {
	TTL           time.Duration `mapstructure:"ttl"`            // 会话保留时长（默认 1h）
	SweepInterval time.Duration `mapstructure:"sweep_interval"` // 过期清理周期（默认 5m）
	Secret        string        `mapstructure:"secret"`         // 令牌签名密钥，空则进程内随机生成
	TokenMaxAge   time.Duration `mapstructure:"token_max_age"`  // 令牌自签发起的最长有效期，0 表示不限，仅以会话是否存在为准
	Backend       string        `mapstructure:"backend"`        // memory / cache
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		TTL:           time.Hour,
		SweepInterval: 5 * time.Minute,
		Backend:       BackendMemory,
	}
}

func (c *Config) setDefaults() {
	if c.TTL == 0 {
		c.TTL = time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must be positive, got %v", ErrInvalidConfig, c.TTL)
	}
	if c.TokenMaxAge < 0 {
		return fmt.Errorf("%w: token_max_age must not be negative, got %v", ErrInvalidConfig, c.TokenMaxAge)
	}
	if c.SweepInterval < 0 {
		return fmt.Errorf("%w: sweep_interval must be positive, got %v", ErrInvalidConfig, c.SweepInterval)
	}
	if c.Secret != "" && len(c.Secret) < 16 {
		return fmt.Errorf("%w: secret must be at least 16 bytes", ErrInvalidConfig)
	}
	switch c.Backend {
	case "", BackendMemory, BackendCache:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	return nil
}
