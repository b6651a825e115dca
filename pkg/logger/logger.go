// Package logger zap 封装：可热调级别、按 context 注入 trace_id/client_id/user_id、支持写前钩子
package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Fatal(msg string, fields ...zap.Field)

	// *Context 变体从 ctx 取 trace_id、span_id、client_id、user_id
	DebugContext(ctx context.Context, msg string, fields ...zap.Field)
	InfoContext(ctx context.Context, msg string, fields ...zap.Field)
	WarnContext(ctx context.Context, msg string, fields ...zap.Field)
	ErrorContext(ctx context.Context, msg string, fields ...zap.Field)

	With(fields ...zap.Field) Logger
	WithContext(ctx context.Context) Logger
	Sync() error

	// SetLevel 对所有 With 派生出的子 Logger 同时生效
	SetLevel(level Level)
	Level() Level
}

type logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
}

func New(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()

	sink, err := openSinks(cfg)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(cfg.Level.zap())

	var core zapcore.Core = zapcore.NewCore(newEncoder(cfg), sink, level)
	if s := cfg.Sampling; s != nil {
		core = zapcore.NewSamplerWithOptions(core, time.Second, s.Initial, s.Thereafter)
	}
	if len(cfg.Hooks) > 0 {
		core = &hookCore{Core: core, hooks: cfg.Hooks}
	}

	// 调用链：用户 -> Info -> log -> Check
	opts := []zap.Option{zap.AddCallerSkip(2)}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return &logger{zap: zap.New(core, opts...), level: level}, nil
}

func NewWithOptions(opts ...Option) (Logger, error) {
	cfg := &Config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return New(cfg)
}

// NewNop 测试与未注入 Logger 的组件使用
func NewNop() Logger {
	return &logger{zap: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

// NewProduction info 级 JSON，Error 以上带堆栈
func NewProduction() (Logger, error) {
	return NewWithOptions(WithLevel(InfoLevel), WithFormat(JSONFormat), WithConsoleOutput(), WithStacktrace(true))
}

// NewDevelopment debug 级彩色控制台输出
func NewDevelopment() (Logger, error) {
	return NewWithOptions(WithLevel(DebugLevel), WithFormat(ConsoleFormat), WithConsoleOutput(), WithCaller(true), WithStacktrace(true))
}

func newEncoder(cfg *Config) zapcore.Encoder {
	ec := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if cfg.EncoderConfig != nil {
		ec = *cfg.EncoderConfig
	}
	if cfg.Format == ConsoleFormat {
		if cfg.EncoderConfig == nil {
			ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		return zapcore.NewConsoleEncoder(ec)
	}
	return zapcore.NewJSONEncoder(ec)
}

func openSinks(cfg *Config) (zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if cfg.Console {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if cfg.File != "" {
		ws, _, err := zap.Open(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
		}
		sinks = append(sinks, ws)
	}
	if r := cfg.Rotate; r != nil {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   r.Filename,
			MaxSize:    r.MaxSize,
			MaxAge:     r.MaxAge,
			MaxBackups: r.MaxBackups,
			LocalTime:  r.LocalTime,
			Compress:   r.Compress,
		}))
	}
	return zapcore.NewMultiWriteSyncer(sinks...), nil
}

func (l *logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	ce := l.zap.Check(lvl, msg)
	if ce == nil {
		return
	}
	if ctx != nil {
		fields = append(contextFields(ctx), fields...)
	}
	ce.Write(fields...)
}

func (l *logger) Debug(msg string, f ...zap.Field) { l.log(nil, zapcore.DebugLevel, msg, f) }
func (l *logger) Info(msg string, f ...zap.Field)  { l.log(nil, zapcore.InfoLevel, msg, f) }
func (l *logger) Warn(msg string, f ...zap.Field)  { l.log(nil, zapcore.WarnLevel, msg, f) }
func (l *logger) Error(msg string, f ...zap.Field) { l.log(nil, zapcore.ErrorLevel, msg, f) }
func (l *logger) Fatal(msg string, f ...zap.Field) { l.log(nil, zapcore.FatalLevel, msg, f) }

func (l *logger) DebugContext(ctx context.Context, msg string, f ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, f)
}

func (l *logger) InfoContext(ctx context.Context, msg string, f ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, f)
}

func (l *logger) WarnContext(ctx context.Context, msg string, f ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, f)
}

func (l *logger) ErrorContext(ctx context.Context, msg string, f ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, f)
}

func (l *logger) With(fields ...zap.Field) Logger {
	return &logger{zap: l.zap.With(fields...), level: l.level}
}

func (l *logger) WithContext(ctx context.Context) Logger {
	return l.With(contextFields(ctx)...)
}

func (l *logger) Sync() error          { return l.zap.Sync() }
func (l *logger) SetLevel(level Level) { l.level.SetLevel(level.zap()) }
func (l *logger) Level() Level         { return Level(l.level.Level()) }

// contextFields otel span 优先于 WithTraceID 设置的值
func contextFields(ctx context.Context) []zap.Field {
	var out []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	} else if id := TraceIDFromContext(ctx); id != "" {
		out = append(out, zap.String("trace_id", id))
	}
	if id := ClientIDFromContext(ctx); id != "" {
		out = append(out, zap.String("client_id", id))
	}
	if id := UserIDFromContext(ctx); id != "" {
		out = append(out, zap.String("user_id", id))
	}
	return out
}

// hookCore 把 With 累积的字段一并交给 Hook
type hookCore struct {
	zapcore.Core
	hooks   []Hook
	context []zapcore.Field
}

func (c *hookCore) With(fields []zapcore.Field) zapcore.Core {
	ctx := append(append([]zapcore.Field{}, c.context...), fields...)
	return &hookCore{Core: c.Core.With(fields), hooks: c.hooks, context: ctx}
}

func (c *hookCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *hookCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	all := append(append(make([]zapcore.Field, 0, len(c.context)+len(fields)), c.context...), fields...)
	for _, h := range c.hooks {
		if err := h.OnWrite(e, all); err != nil {
			return err
		}
	}
	return c.Core.Write(e, fields)
}
