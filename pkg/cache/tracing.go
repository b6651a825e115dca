package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracedCache 为会话读写打点，TTL/Exists 等直接透传
type tracedCache struct {
	Cache
	tracer trace.Tracer
}

// NewTracing 包装 c，Get/Set/Delete 各生成一个 client span
func NewTracing(c Cache) Cache {
	return &tracedCache{Cache: c, tracer: otel.Tracer("pushgate.cache")}
}

func (t *tracedCache) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Get 未命中记 cache.hit=false，不算错误
func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	ctx, span := t.start(ctx, "Get", attribute.String("cache.key", key))
	err := t.Cache.Get(ctx, key, value)
	span.SetAttributes(attribute.Bool("cache.hit", err == nil))
	if errors.Is(err, ErrCacheNotFound) {
		finish(span, nil)
		return err
	}
	finish(span, err)
	return err
}

func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := t.start(ctx, "Set",
		attribute.String("cache.key", key),
		attribute.Float64("cache.ttl_seconds", ttl.Seconds()),
	)
	err := t.Cache.Set(ctx, key, value, ttl)
	finish(span, err)
	return err
}

func (t *tracedCache) Delete(ctx context.Context, keys ...string) error {
	ctx, span := t.start(ctx, "Delete", attribute.StringSlice("cache.keys", keys))
	err := t.Cache.Delete(ctx, keys...)
	finish(span, err)
	return err
}
