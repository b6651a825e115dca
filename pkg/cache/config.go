package cache

import "time"

// DriverType 驱动类型
type DriverType string

const (
	DriverMemory DriverType = "memory"
	DriverRedis  DriverType = "redis"
)

// RedisMode 部署模式
type RedisMode string

const (
	RedisStandalone RedisMode = "standalone"
	RedisCluster    RedisMode = "cluster"
	RedisSentinel   RedisMode = "sentinel"
)

// Config 缓存配置
type Config struct {
	Driver     DriverType    `mapstructure:"driver"`
	Redis      *RedisConfig  `mapstructure:"redis"`
	Memory     *MemoryConfig `mapstructure:"memory"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"` // Set 传 0 时使用
	Serializer Serializer    `mapstructure:"-"`
}

// RedisConfig standalone 用 Addr，cluster/sentinel 用 Addrs
type RedisConfig struct {
	Mode         RedisMode     `mapstructure:"mode"`
	Addr         string        `mapstructure:"addr"`
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"` // sentinel
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// MemoryConfig 进程内缓存
type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

// DefaultConfig 进程内驱动，默认 TTL 10 分钟
func DefaultConfig() *Config {
	return &Config{
		Driver:     DriverMemory,
		Memory:     DefaultMemoryConfig(),
		DefaultTTL: 10 * time.Minute,
		Serializer: JSONSerializer{},
	}
}

func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		DefaultExpiration: 10 * time.Minute,
		CleanupInterval:   time.Minute,
	}
}

// Option 配置选项
type Option func(*Config)

// WithMemory 使用进程内驱动
func WithMemory(cfg *MemoryConfig) Option {
	return func(c *Config) {
		c.Driver = DriverMemory
		c.Memory = cfg
	}
}

// WithRedis 使用 Redis 驱动
func WithRedis(cfg *RedisConfig) Option {
	return func(c *Config) {
		c.Driver = DriverRedis
		c.Redis = cfg
	}
}

// WithKeyPrefix 多个服务共用一个 Redis 时区分键空间
func WithKeyPrefix(prefix string) Option {
	return func(c *Config) { c.KeyPrefix = prefix }
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Serializer == nil {
		c.Serializer = JSONSerializer{}
	}
	if c.Memory == nil {
		c.Memory = DefaultMemoryConfig()
	}
	if r := c.Redis; r != nil {
		if r.Mode == "" {
			r.Mode = RedisStandalone
		}
		if r.DialTimeout == 0 {
			r.DialTimeout = 5 * time.Second
		}
	}
}

// Validate 检查驱动与 Redis 拓扑
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverRedis:
	default:
		return ErrCacheInvalidConfig.WithMessage("unknown cache driver: " + string(c.Driver))
	}

	r := c.Redis
	if r == nil {
		return ErrCacheInvalidConfig.WithMessage("redis driver requires redis config")
	}
	switch r.Mode {
	case RedisStandalone:
		if r.Addr == "" {
			return ErrCacheInvalidConfig.WithMessage("redis standalone requires addr")
		}
	case RedisCluster:
		if len(r.Addrs) < 3 {
			return ErrCacheInvalidConfig.WithMessage("redis cluster requires at least 3 addrs")
		}
	case RedisSentinel:
		if len(r.Addrs) == 0 || r.MasterName == "" {
			return ErrCacheInvalidConfig.WithMessage("redis sentinel requires addrs and master_name")
		}
	default:
		return ErrCacheInvalidConfig.WithMessage("unknown redis mode: " + string(r.Mode))
	}
	return nil
}
