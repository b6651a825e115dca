package logger

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func newBenchLogger(b *testing.B, opts ...Option) Logger {
	b.Helper()
	base := []Option{
		WithLevel(InfoLevel),
		WithFormat(JSONFormat),
		WithFileOutput(filepath.Join(b.TempDir(), "bench.log")),
		WithCaller(false),
	}
	l, err := NewWithOptions(append(base, opts...)...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = l.Sync() })
	return l
}

// BenchmarkLoggerJSON 广播路径上的典型日志
func BenchmarkLoggerJSON(b *testing.B) {
	l := newBenchLogger(b)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Info("broadcast delivered",
				zap.String("stream", "quotes"),
				zap.Int("recipients", 42),
			)
		}
	})
}

// BenchmarkLoggerContext 每帧都会携带 client_id
func BenchmarkLoggerContext(b *testing.B) {
	l := newBenchLogger(b)
	ctx := WithUserID(WithClientID(context.Background(), "c-1"), "u-1")

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.InfoContext(ctx, "frame routed", zap.String("type", "subscribe"))
		}
	})
}

// BenchmarkLoggerDisabled 被级别过滤时的开销
func BenchmarkLoggerDisabled(b *testing.B) {
	l := newBenchLogger(b, WithLevel(ErrorLevel))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Info("heartbeat", zap.String("client_id", "c-1"))
		}
	})
}

// BenchmarkLoggerSampling 采样
func BenchmarkLoggerSampling(b *testing.B) {
	l := newBenchLogger(b, WithSampling(&SamplingConfig{Initial: 100, Thereafter: 100}))

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			l.Info("heartbeat", zap.String("client_id", "c-1"))
		}
	})
}
