package logger

import "go.uber.org/zap/zapcore"

// Option 修改 Config
type Option func(*Config)

func WithLevel(level Level) Option {
	return func(c *Config) { c.Level = level }
}

func WithFormat(format Format) Option {
	return func(c *Config) { c.Format = format }
}

func WithConsoleOutput() Option {
	return func(c *Config) { c.Console = true }
}

func WithFileOutput(filename string) Option {
	return func(c *Config) { c.File = filename }
}

// WithRotateOutput 按大小轮转的文件输出
func WithRotateOutput(cfg *RotateConfig) Option {
	return func(c *Config) { c.Rotate = cfg }
}

func WithSampling(cfg *SamplingConfig) Option {
	return func(c *Config) { c.Sampling = cfg }
}

func WithCaller(enable bool) Option {
	return func(c *Config) { c.EnableCaller = enable }
}

func WithStacktrace(enable bool) Option {
	return func(c *Config) { c.EnableStacktrace = enable }
}

func WithEncoderConfig(cfg *zapcore.EncoderConfig) Option {
	return func(c *Config) { c.EncoderConfig = cfg }
}

// WithHook 追加写前钩子
func WithHook(hook Hook) Option {
	return func(c *Config) { c.Hooks = append(c.Hooks, hook) }
}
