package auth

import (
	"github.com/tokmz/pushgate/pkg/cache"
	"github.com/tokmz/pushgate/pkg/logger"
)

// New 按配置创建认证器，remote 模式需要缓存
func New(cfg *Config, c cache.Cache, log logger.Logger) (Authenticator, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModeRemote {
		return NewRemoteAuthenticator(cfg.Remote, c, log)
	}
	return NewStaticAuthenticator(cfg.Tokens), nil
}
