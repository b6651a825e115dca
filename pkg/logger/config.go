package logger

import "go.uber.org/zap/zapcore"

// Format 编码格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

func (f Format) IsValid() bool { return f == JSONFormat || f == ConsoleFormat }

// Config 日志配置，零值输出 info 级 JSON 到 stdout
type Config struct {
	Level  Level
	Format Format

	Console bool          // stdout
	File    string        // 追加写入，不轮转
	Rotate  *RotateConfig // lumberjack 轮转文件

	Sampling *SamplingConfig // 高频日志（心跳、逐帧）限流

	EnableCaller     bool
	EnableStacktrace bool // Error 及以上

	EncoderConfig *zapcore.EncoderConfig
	Hooks         []Hook
}

func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
	if c.Rotate != nil {
		c.Rotate.setDefaults()
	}
	if c.Sampling != nil {
		c.Sampling.setDefaults()
	}
}

// RotateConfig 大小单位 MB，保留期单位天
type RotateConfig struct {
	Filename   string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	LocalTime  bool
	Compress   bool
}

func (r *RotateConfig) setDefaults() {
	r.MaxSize = orDefault(r.MaxSize, 100)
	r.MaxAge = orDefault(r.MaxAge, 30)
	r.MaxBackups = orDefault(r.MaxBackups, 10)
	r.LocalTime = true
}

// SamplingConfig 每秒前 Initial 条全部记录，之后每 Thereafter 条记 1 条
type SamplingConfig struct {
	Initial    int
	Thereafter int
}

func (s *SamplingConfig) setDefaults() {
	s.Initial = orDefault(s.Initial, 100)
	s.Thereafter = orDefault(s.Thereafter, 100)
}

// Hook 每条日志写出前调用，返回错误会中止写入
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
