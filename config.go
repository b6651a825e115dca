package pushgate

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/pushgate/pkg/auth"
	"github.com/tokmz/pushgate/pkg/cache"
	"github.com/tokmz/pushgate/pkg/catalog"
	"github.com/tokmz/pushgate/pkg/config"
	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/journal"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/market"
	"github.com/tokmz/pushgate/pkg/orm"
	"github.com/tokmz/pushgate/pkg/session"
	"github.com/tokmz/pushgate/pkg/source"
	"github.com/tokmz/pushgate/pkg/tracing"
	"github.com/tokmz/pushgate/pkg/ws"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid_config", "invalid configuration")

// ServerConfig 服务器配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr           string        `mapstructure:"addr"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`

	// WSPath WebSocket 升级路径，默认 /ws
	WSPath string `mapstructure:"ws_path"`
	// PublishToken 非空时 /publish 需要 Authorization: Bearer <token>
	PublishToken string `mapstructure:"publish_token"`
	// HandshakeRate 每个 IP 每秒允许的握手次数，0 表示不限
	HandshakeRate  float64 `mapstructure:"handshake_rate"`
	HandshakeBurst int     `mapstructure:"handshake_burst"`
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	Timeout time.Duration `mapstructure:"timeout"`

	BeforeShutdown func() `mapstructure:"-"`
	AfterShutdown  func() `mapstructure:"-"`
}

// LogConfig 日志配置（可由配置文件解码）
type LogConfig struct {
	Level      string `mapstructure:"level"`  // debug/info/warn/error
	Format     string `mapstructure:"format"` // json/console
	File       string `mapstructure:"file"`
	Caller     bool   `mapstructure:"caller"`
	Stacktrace bool   `mapstructure:"stacktrace"`

	// 以下任一非零即启用轮转
	RotateFile       string `mapstructure:"rotate_file"`
	RotateMaxSize    int    `mapstructure:"rotate_max_size"`
	RotateMaxAge     int    `mapstructure:"rotate_max_age"`
	RotateMaxBackups int    `mapstructure:"rotate_max_backups"`
	RotateCompress   bool   `mapstructure:"rotate_compress"`
}

// JournalConfig 连接日志，Enabled 为 false 时不连接数据库
type JournalConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Database *orm.Config     `mapstructure:"database"`
	Writer   *journal.Config `mapstructure:"writer"`
}

// Config 应用配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	Server         ServerConfig   `mapstructure:"server"`
	Shutdown       ShutdownConfig `mapstructure:"shutdown"`
	TrustedProxies []string       `mapstructure:"trusted_proxies"`

	// Middlewares 全局 HTTP 中间件，在内置路由注册前安装
	Middlewares []HandlerFunc `mapstructure:"-"`

	Logger  LogConfig       `mapstructure:"logger"`
	WS      *ws.Config      `mapstructure:"ws"`
	Session *session.Config `mapstructure:"session"`
	Cache   *cache.Config   `mapstructure:"cache"`
	Auth    *auth.Config    `mapstructure:"auth"`
	Tracing *tracing.Config `mapstructure:"tracing"`
	Catalog *catalog.Config `mapstructure:"catalog"`
	Market  *market.Config  `mapstructure:"market"`
	Journal JournalConfig   `mapstructure:"journal"`
	Sources *source.Config  `mapstructure:"sources"`
}

// Option 配置选项函数
type Option func(*Config)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Mode: gin.ReleaseMode,
		Server: ServerConfig{
			Addr:           ":8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1MB
			WSPath:         "/ws",
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Logger:  LogConfig{Level: "info", Format: "json"},
		WS:      ws.DefaultConfig(),
		Session: session.DefaultConfig(),
		Cache:   cache.DefaultConfig(),
		Auth:    &auth.Config{Mode: auth.ModeStatic},
		Tracing: tracing.DefaultConfig(),
	}
}

func (c *Config) setDefaults() {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.WSPath == "" {
		c.Server.WSPath = d.Server.WSPath
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = d.Server.MaxHeaderBytes
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = d.Shutdown.Timeout
	}
	if c.Logger.Level == "" {
		c.Logger.Level = d.Logger.Level
	}
	if c.Logger.Format == "" {
		c.Logger.Format = d.Logger.Format
	}
}

// Validate 校验各子配置，首个错误即返回
func (c *Config) Validate() error {
	c.setDefaults()
	switch c.Mode {
	case gin.DebugMode, gin.ReleaseMode, gin.TestMode:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		return fmt.Errorf("%w: server.ws_path must start with /", ErrInvalidConfig)
	}
	if c.Server.HandshakeRate < 0 || c.Server.HandshakeBurst < 0 {
		return fmt.Errorf("%w: handshake rate and burst must not be negative", ErrInvalidConfig)
	}
	if _, err := logger.ParseLevel(c.Logger.Level); err != nil {
		return fmt.Errorf("%w: logger.level: %v", ErrInvalidConfig, err)
	}
	if !logger.Format(c.Logger.Format).IsValid() {
		return fmt.Errorf("%w: logger.format %q", ErrInvalidConfig, c.Logger.Format)
	}

	type validator interface{ Validate() error }
	sections := []struct {
		name string
		v    validator
		set  bool
	}{
		{"ws", c.WS, c.WS != nil},
		{"session", c.Session, c.Session != nil},
		{"cache", c.Cache, c.Cache != nil},
		{"auth", c.Auth, c.Auth != nil},
		{"tracing", c.Tracing, c.Tracing != nil},
		{"market", c.Market, c.Market != nil},
		{"sources", c.Sources, c.Sources != nil},
	}
	for _, s := range sections {
		if !s.set {
			continue
		}
		if err := s.v.Validate(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	if c.Journal.Enabled {
		if c.Journal.Database == nil {
			return fmt.Errorf("%w: journal.database is required when journal is enabled", ErrInvalidConfig)
		}
		if err := c.Journal.Database.Validate(); err != nil {
			return fmt.Errorf("journal.database: %w", err)
		}
	}
	return nil
}

// LoggerConfig 转换为 logger.Config
func (c LogConfig) LoggerConfig() (*logger.Config, error) {
	level, err := logger.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	lc := &logger.Config{
		Level:            level,
		Format:           logger.Format(c.Format),
		File:             c.File,
		EnableCaller:     c.Caller,
		EnableStacktrace: c.Stacktrace,
	}
	if c.RotateFile != "" {
		lc.Rotate = &logger.RotateConfig{
			Filename:   c.RotateFile,
			MaxSize:    c.RotateMaxSize,
			MaxAge:     c.RotateMaxAge,
			MaxBackups: c.RotateMaxBackups,
			Compress:   c.RotateCompress,
		}
	}
	if lc.File == "" && lc.Rotate == nil {
		lc.Console = true
	}
	return lc, nil
}

// LoadConfig 从文件与 PUSHGATE_ 前缀环境变量加载配置，未出现的键保留默认值
//
// 返回的 *config.Config 可用于后续热更新（Watch / OnChange）。
func LoadConfig(path string, opts ...config.Option) (*Config, *config.Config, error) {
	base := []config.Option{
		config.WithEnvPrefix("PUSHGATE"),
		config.WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	}
	if path != "" {
		base = append(base, config.WithConfigFile(path))
	} else {
		base = append(base, config.WithOptionalFile(true))
	}
	loader := config.New(append(base, opts...)...)
	if err := loader.Load(); err != nil {
		return nil, nil, err
	}

	cfg := DefaultConfig()
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithWSPath 设置 WebSocket 路径
func WithWSPath(path string) Option {
	return func(c *Config) {
		c.Server.WSPath = path
	}
}

// WithPublishToken 设置 /publish 鉴权令牌
func WithPublishToken(token string) Option {
	return func(c *Config) {
		c.Server.PublishToken = token
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithMiddleware 追加全局 HTTP 中间件
func WithMiddleware(middlewares ...HandlerFunc) Option {
	return func(c *Config) {
		c.Middlewares = append(c.Middlewares, middlewares...)
	}
}

// WithConfig 整体替换配置（选项按顺序应用，应放在最前）
func WithConfig(cfg *Config) Option {
	return func(c *Config) {
		if cfg != nil {
			*c = *cfg
		}
	}
}
