package auth

import (
	"fmt"
	"time"
)

// 认证方式
const (
	ModeStatic = "static"
	ModeRemote = "remote"
)

// Config 认证配置
type Config struct {
	Mode   string              `mapstructure:"mode"`   // static / remote
	Tokens map[string]Identity `mapstructure:"tokens"` // static 模式：凭据 -> 身份
	Remote RemoteConfig        `mapstructure:"remote"`
}

// RemoteConfig 远程校验配置
type RemoteConfig struct {
	URL          string        `mapstructure:"url"`           // introspect 地址
	ServiceToken string        `mapstructure:"service_token"` // 调用认证服务的 Bearer Token
	Timeout      time.Duration `mapstructure:"timeout"`       // 默认 3s
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`     // 身份缓存时长，默认 1m
	MaxAttempts  int           `mapstructure:"max_attempts"`  // 5xx 重试次数，默认 2
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStatic
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = 3 * time.Second
	}
	if c.Remote.CacheTTL == 0 {
		c.Remote.CacheTTL = time.Minute
	}
	if c.Remote.MaxAttempts == 0 {
		c.Remote.MaxAttempts = 2
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch c.Mode {
	case "", ModeStatic:
	case ModeRemote:
		if c.Remote.URL == "" {
			return fmt.Errorf("%w: remote.url is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	return nil
}
