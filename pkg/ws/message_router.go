package ws

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
)

// Request 路由到处理器的请求
type Request struct {
	ClientID string
	Frame    *Frame
	Session  SessionView
	Conn     *Conn
}

// Handler 消息处理器，返回的回复会被序列化后发回客户端
type Handler interface {
	Handle(ctx context.Context, req *Request) (any, error)
}

// HandlerFunc 函数适配器
type HandlerFunc func(ctx context.Context, req *Request) (any, error)

// Handle 实现 Handler
func (f HandlerFunc) Handle(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// NextFunc 中间件下一步函数
type NextFunc func(ctx context.Context) (any, error)

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, req *Request, next NextFunc) (any, error)

// RouteOption 路由校验选项
type RouteOption func(*route)

// RequireStream 要求 stream 字段
func RequireStream() RouteOption { return func(r *route) { r.requireStream = true } }

// RequireSessionID 要求 session_id 字段
func RequireSessionID() RouteOption { return func(r *route) { r.requireSessionID = true } }

// RequireParams 要求 params 字段
func RequireParams() RouteOption { return func(r *route) { r.requireParams = true } }

// RequireAuth 要求已认证
func RequireAuth() RouteOption { return func(r *route) { r.requireAuth = true } }

// RequirePermission 要求已认证且拥有权限
func RequirePermission(p string) RouteOption {
	return func(r *route) {
		r.requireAuth = true
		r.permission = p
	}
}

// CountsAsSubscription 计入订阅速率
func CountsAsSubscription() RouteOption { return func(r *route) { r.countsAsSubscription = true } }

type route struct {
	handler  Handler
	compiled NextHandler

	requireStream        bool
	requireSessionID     bool
	requireParams        bool
	requireAuth          bool
	permission           string
	countsAsSubscription bool
}

// NextHandler 编译后的处理器链
type NextHandler func(ctx context.Context, req *Request) (any, error)

// MessageRouter 消息路由器
//
// 每帧依次经过：解析、字段校验、消息限流、订阅限流、认证与权限、中间件、处理器。
// 任一环节失败都会短路为错误帧，连接保持不变。
type MessageRouter struct {
	routes     map[string]*route
	middleware []MiddlewareFunc
	mu         sync.RWMutex
	frozen     bool

	conns   *ConnectionManager
	timeout time.Duration
	metrics Metrics
	stats   *counters
	log     logger.Logger
}

// NewMessageRouter 创建路由器
func NewMessageRouter(conns *ConnectionManager, cfg *Config, log logger.Logger) (*MessageRouter, error) {
	if conns == nil {
		return nil, fmt.Errorf("%w: connection manager", ErrMissingDependency)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &MessageRouter{
		routes:  make(map[string]*route),
		conns:   conns,
		timeout: cfg.HandlerTimeout,
		metrics: metrics,
		stats:   &counters{},
		log:     log.With(zap.String("component", "message_router")),
	}, nil
}

// Register 注册处理器
func (r *MessageRouter) Register(msgType string, handler Handler, opts ...RouteOption) error {
	if msgType == "" || handler == nil {
		return fmt.Errorf("%w: handler for %q", ErrMissingDependency, msgType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.routes[msgType]; exists {
		return ErrHandlerExists.WithMessage(fmt.Sprintf("handler for %q already exists", msgType))
	}

	rt := &route{handler: handler}
	for _, opt := range opts {
		opt(rt)
	}
	r.routes[msgType] = rt
	return nil
}

// Use 添加中间件
func (r *MessageRouter) Use(middleware ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// Freeze 冻结路由器（启动后不可修改）
func (r *MessageRouter) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true

	// 预编译所有处理器链
	for _, rt := range r.routes {
		rt.compiled = buildChain(rt.handler, r.middleware)
	}
}

// Types 已注册的消息类型
func (r *MessageRouter) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for t := range r.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// buildChain 从后向前构建中间件链
func buildChain(handler Handler, middleware []MiddlewareFunc) NextHandler {
	final := NextHandler(handler.Handle)
	for i := len(middleware) - 1; i >= 0; i-- {
		mw := middleware[i]
		next := final
		final = func(ctx context.Context, req *Request) (any, error) {
			return mw(ctx, req, func(ctx context.Context) (any, error) {
				return next(ctx, req)
			})
		}
	}
	return final
}

// lookup 返回路由及其处理器链
func (r *MessageRouter) lookup(msgType string) (*route, NextHandler) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[msgType]
	if !ok {
		return nil, nil
	}
	if r.frozen {
		return rt, rt.compiled
	}
	// 未冻结时动态构建
	return rt, buildChain(rt.handler, append([]MiddlewareFunc(nil), r.middleware...))
}

// Route 处理一帧原始数据
//
// 返回待发送的回复；出错时回复为错误帧，err 为原始错误。
func (r *MessageRouter) Route(ctx context.Context, c *Conn, raw []byte) (reply any, err error) {
	start := time.Now()
	frame, err := decodeFrame(raw)
	if err != nil {
		if frame != nil {
			err = r.charge(c, err)
		}
		return r.fail(ctx, c, frame, err), err
	}

	rt, chain := r.lookup(frame.Type)
	if rt == nil {
		err = r.charge(c, ErrUnsupportedMessageType.WithMessage(fmt.Sprintf("unsupported message type %q", frame.Type)))
		return r.fail(ctx, c, frame, err), err
	}
	if err = r.check(c, frame, rt); err != nil {
		return r.fail(ctx, c, frame, err), err
	}

	ctx = logger.WithClientID(ctx, c.ID())
	if uid := c.UserID(); uid != "" {
		ctx = logger.WithUserID(ctx, uid)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req := &Request{ClientID: c.ID(), Frame: frame, Session: c, Conn: c}
	reply, err = r.invoke(ctx, chain, req)
	if err != nil {
		return r.fail(ctx, c, frame, err), err
	}

	if s, ok := reply.(RequestIDSetter); ok && frame.RequestID != "" {
		s.SetRequestID(frame.RequestID)
	}
	r.stats.messagesRouted.Add(1)
	r.metrics.IncrementMessageCount(frame.Type)
	r.metrics.RecordMessageLatency(frame.Type, time.Since(start))
	return reply, nil
}

// check 字段校验、限流、认证，顺序固定
func (r *MessageRouter) check(c *Conn, f *Frame, rt *route) error {
	switch {
	case rt.requireStream && f.Stream == "":
		return ErrValidation.WithMessage("stream is required")
	case rt.requireSessionID && f.SessionID == "":
		return ErrValidation.WithMessage("session_id is required")
	case rt.requireParams && !f.HasParams():
		return ErrValidation.WithMessage("params is required")
	}

	if !r.conns.AllowMessage(c.ID()) {
		return ErrRateLimited.WithMessage("message rate limit exceeded")
	}
	if rt.countsAsSubscription && !r.conns.AllowSubscription(c.ID()) {
		return ErrRateLimited.WithMessage("subscription rate limit exceeded")
	}

	if rt.requireAuth && !c.IsAuthenticated() {
		return ErrUnauthenticated
	}
	if rt.permission != "" && !c.HasPermission(rt.permission) {
		return ErrForbidden.WithMessage(fmt.Sprintf("permission %q required", rt.permission))
	}
	return nil
}

// charge 无法路由的帧同样计入消息窗口，超限时以 rate_limited 代替原错误
func (r *MessageRouter) charge(c *Conn, err error) error {
	if !r.conns.AllowMessage(c.ID()) {
		return ErrRateLimited.WithMessage("message rate limit exceeded")
	}
	return err
}

// invoke 执行处理器链，panic 转换为 handler_error
func (r *MessageRouter) invoke(ctx context.Context, chain NextHandler, req *Request) (reply any, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.ErrorContext(ctx, "handler panic",
				zap.String("type", req.Frame.Type),
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			reply, err = nil, ErrHandler.WithError(fmt.Errorf("panic: %v", p))
		}
	}()
	return chain(ctx, req)
}

// fail 记录错误并生成错误帧
func (r *MessageRouter) fail(ctx context.Context, c *Conn, f *Frame, err error) *ErrorFrame {
	msgType, requestID := "", ""
	if f != nil {
		msgType, requestID = f.Type, f.RequestID
	}
	code := errors.CodeOf(err)
	if code == "" {
		code = ErrHandler.Code
		r.log.ErrorContext(ctx, "handler failed",
			zap.String("client_id", c.ID()),
			zap.String("type", msgType),
			zap.Error(err),
		)
	} else {
		r.log.DebugContext(ctx, "frame rejected",
			zap.String("client_id", c.ID()),
			zap.String("type", msgType),
			zap.String("error_code", code),
		)
	}
	r.stats.messageErrors.Add(1)
	r.metrics.IncrementMessageErrors(msgType, code)
	return NewErrorFrame(err, requestID)
}
