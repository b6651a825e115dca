// Package config viper 封装：文件 + 默认值 + 环境变量三层合并，支持热更新回调
package config

import (
	"errors"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 并发安全的配置源；文件变更时在写锁内重读
type Config struct {
	mu    sync.RWMutex
	viper *viper.Viper

	configFile  string
	configName  string
	configType  string
	configPaths []string
	optional    bool

	defaults       map[string]any
	envPrefix      string
	envKeyReplacer *strings.Replacer

	autoWatch bool
	onChange  func()
	watcher   *fsnotify.Watcher
	done      chan struct{}
}

func New(opts ...Option) *Config {
	c := &Config{viper: viper.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load 读取配置；未指定文件来源时只使用默认值与环境变量
func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := c.viper
	for k, val := range c.defaults {
		v.SetDefault(k, val)
	}
	if c.envPrefix != "" {
		v.SetEnvPrefix(c.envPrefix)
		v.AutomaticEnv()
	}
	if c.envKeyReplacer != nil {
		v.SetEnvKeyReplacer(c.envKeyReplacer)
	}

	if c.configFile != "" {
		v.SetConfigFile(c.configFile)
	} else if c.configName != "" {
		v.SetConfigName(c.configName)
		if c.configType != "" {
			v.SetConfigType(c.configType)
		}
		for _, p := range c.configPaths {
			v.AddConfigPath(p)
		}
	} else {
		return nil
	}

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
	case errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist):
		if c.optional {
			return nil
		}
		return ErrConfigNotFound.WithError(err)
	default:
		return ErrConfigReadFailed.WithError(err)
	}

	if c.autoWatch {
		return c.watchLocked()
	}
	return nil
}

// Get 类型不匹配时返回零值
func Get[T any](c *Config, key string) T {
	v, _ := read(c, func(v *viper.Viper) any { return v.Get(key) }).(T)
	return v
}

func read[T any](c *Config, fn func(*viper.Viper) T) T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fn(c.viper)
}

func (c *Config) GetString(key string) string {
	return read(c, func(v *viper.Viper) string { return v.GetString(key) })
}

func (c *Config) GetInt(key string) int {
	return read(c, func(v *viper.Viper) int { return v.GetInt(key) })
}

func (c *Config) GetBool(key string) bool {
	return read(c, func(v *viper.Viper) bool { return v.GetBool(key) })
}

func (c *Config) GetDuration(key string) time.Duration {
	return read(c, func(v *viper.Viper) time.Duration { return v.GetDuration(key) })
}

func (c *Config) GetStringSlice(key string) []string {
	return read(c, func(v *viper.Viper) []string { return v.GetStringSlice(key) })
}

func (c *Config) IsSet(key string) bool {
	return read(c, func(v *viper.Viper) bool { return v.IsSet(key) })
}

func (c *Config) ConfigFileUsed() string {
	return read(c, (*viper.Viper).ConfigFileUsed)
}

// Set 覆盖值，优先级高于文件与环境变量
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.viper.Set(key, value)
}

// Sub 返回只读快照，不跟随热更新
func (c *Config) Sub(key string) *Config {
	sub := read(c, func(v *viper.Viper) *viper.Viper { return v.Sub(key) })
	if sub == nil {
		return nil
	}
	return &Config{viper: sub}
}

func (c *Config) Unmarshal(out any) error {
	if err := read(c, func(v *viper.Viper) error { return v.Unmarshal(out) }); err != nil {
		return ErrConfigDecodeFailed.WithError(err)
	}
	return nil
}

func (c *Config) UnmarshalKey(key string, out any) error {
	if err := read(c, func(v *viper.Viper) error { return v.UnmarshalKey(key, out) }); err != nil {
		return ErrConfigDecodeFailed.WithError(err)
	}
	return nil
}

// Close 停止文件监控
func (c *Config) Close() {
	c.StopWatch()
}
