package middleware

import (
	"fmt"

	"github.com/tokmz/pushgate"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig 链路追踪中间件配置
type TracingConfig struct {
	// TracerName Tracer 名称（默认 "pushgate.http"）
	TracerName string

	// SpanNameFormatter 自定义 Span 名称格式
	SpanNameFormatter func(c *pushgate.Context) string

	// ExcludePaths 排除的路径（不追踪）
	// WebSocket 升级请求的 span 会持续整个连接周期，通常应排除
	ExcludePaths []string
}

// DefaultTracingConfig 返回默认配置
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		TracerName: "pushgate.http",
		SpanNameFormatter: func(c *pushgate.Context) string {
			if p := c.FullPath(); p != "" {
				return c.Request().Method + " " + p
			}
			return c.Request().Method + " " + c.Request().URL.Path
		},
		ExcludePaths: []string{"/healthz", "/ws"},
	}
}

// Tracing 提取上游 TraceContext 并创建 HTTP Server Span
func Tracing(cfgs ...*TracingConfig) pushgate.HandlerFunc {
	cfg := DefaultTracingConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	skipMap := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skipMap[path] = true
	}

	return func(c *pushgate.Context) {
		if skipMap[c.Request().URL.Path] {
			c.Next()
			return
		}

		// 每次请求获取 tracer，Provider 可能晚于中间件初始化
		tracer := otel.Tracer(cfg.TracerName)
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.Request().Context(), propagation.HeaderCarrier(c.Request().Header))

		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(c.Request().Method),
			semconv.URLPath(c.Request().URL.Path),
			semconv.ServerAddress(c.Request().Host),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		if fullPath := c.FullPath(); fullPath != "" {
			attrs = append(attrs, semconv.HTTPRouteKey.String(fullPath))
		}
		if stream := c.Param("stream"); stream != "" {
			attrs = append(attrs, attribute.String("pushgate.stream", stream))
		}

		ctx, span := tracer.Start(ctx, cfg.SpanNameFormatter(c),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		c.SetTraceID(span.SpanContext().TraceID().String())
		c.SetRequestContext(ctx)

		c.Next()

		statusCode := c.Writer().Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(statusCode))
		if statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", statusCode))
		}
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer().Header()))
	}
}
