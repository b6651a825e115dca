package ws

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/tracing"
)

// TracingMiddleware 每个路由帧一个 span
func TracingMiddleware() MiddlewareFunc {
	return func(ctx context.Context, req *Request, next NextFunc) (any, error) {
		ctx, span := tracing.StartSpan(ctx, "ws."+req.Frame.Type,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("ws.type", req.Frame.Type),
				attribute.String("ws.client_id", req.ClientID),
			),
		)
		defer span.End()

		if req.Frame.Stream != "" {
			span.SetAttributes(attribute.String("ws.stream", req.Frame.Stream))
		}
		reply, err := next(ctx)
		if err != nil {
			tracing.RecordError(span, err)
			if code := errors.CodeOf(err); code != "" {
				span.SetAttributes(attribute.String("ws.error_code", code))
			}
		}
		return reply, err
	}
}

// LoggingMiddleware 记录处理耗时，失败的帧提升到 warn
func LoggingMiddleware(log logger.Logger) MiddlewareFunc {
	return func(ctx context.Context, req *Request, next NextFunc) (any, error) {
		start := time.Now()
		reply, err := next(ctx)

		fields := []zap.Field{
			zap.String("type", req.Frame.Type),
			zap.Duration("latency", time.Since(start)),
		}
		if req.Frame.Stream != "" {
			fields = append(fields, zap.String("stream", req.Frame.Stream))
		}
		if err != nil {
			log.WarnContext(ctx, "frame failed", append(fields, zap.Error(err))...)
		} else {
			log.DebugContext(ctx, "frame handled", fields...)
		}
		return reply, err
	}
}
