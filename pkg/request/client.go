package request

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/tracing"
)

// Client 服务间 JSON 调用客户端（认证服务等）
type Client struct {
	cfg  *Config
	http *http.Client
	log  logger.Logger
}

// New 创建客户端
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		log:  log,
	}
}

// Get 创建 GET 请求
func (c *Client) Get(url string) *Request {
	return c.newRequest(http.MethodGet, url)
}

// Post 创建 POST 请求
func (c *Client) Post(url string) *Request {
	return c.newRequest(http.MethodPost, url)
}

func (c *Client) newRequest(method, url string) *Request {
	return &Request{
		client:  c,
		method:  method,
		url:     url,
		headers: make(map[string]string),
		ctx:     context.Background(),
	}
}

func (c *Client) execute(r *Request) (*Response, error) {
	if c.cfg.Retry == nil {
		return c.doOnce(r)
	}
	rc := c.cfg.Retry.normalized()

	var (
		resp *Response
		err  error
	)
	for attempt := 0; ; attempt++ {
		resp, err = c.doOnce(r)
		if !retryable(resp, err) {
			return resp, err
		}
		if attempt == rc.MaxAttempts {
			break
		}

		timer := time.NewTimer(rc.backoff(attempt))
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return nil, ErrCanceled.WithError(r.ctx.Err())
		case <-timer.C:
		}
		c.log.DebugContext(r.ctx, "retrying request",
			zap.String("url", r.url),
			zap.Int("attempt", attempt+1),
		)
	}
	if err != nil {
		return nil, ErrMaxRetry.WithError(err)
	}
	// 最后一次仍为 5xx，交给调用方按状态码处理
	return resp, nil
}

func (c *Client) doOnce(r *Request) (*Response, error) {
	ctx := r.ctx
	var span trace.Span
	if c.cfg.Tracing {
		ctx, span = tracing.StartSpan(ctx, "HTTP "+r.method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", r.method),
				attribute.String("http.url", r.url),
			),
		)
		defer span.End()
	}

	req, err := r.build(ctx)
	if err != nil {
		return nil, err
	}
	if span != nil {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err == nil {
		defer httpResp.Body.Close()
		var body []byte
		if body, err = io.ReadAll(httpResp.Body); err == nil {
			resp := &Response{
				StatusCode: httpResp.StatusCode,
				Headers:    httpResp.Header,
				Body:       body,
				Duration:   time.Since(start),
			}
			if span != nil {
				span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
				if resp.StatusCode >= 500 {
					span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
				}
			}
			return resp, nil
		}
	}

	tracing.RecordError(span, err)
	c.log.WarnContext(ctx, "http request failed",
		zap.String("method", r.method),
		zap.String("url", r.url),
		zap.Error(err),
	)
	return nil, ErrRequestFailed.WithError(err)
}
