package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/auth"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/session"
)

// StreamPolicy 订阅授权，未配置时允许全部主题
type StreamPolicy interface {
	Authorize(topic string, permissions []string, filter map[string]string) error
}

type openPolicy struct{}

func (openPolicy) Authorize(string, []string, map[string]string) error { return nil }

// AuthHandler 处理 auth 帧
type AuthHandler struct {
	auth auth.Authenticator
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(a auth.Authenticator) (*AuthHandler, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: authenticator", ErrMissingDependency)
	}
	return &AuthHandler{auth: a}, nil
}

func (h *AuthHandler) Handle(ctx context.Context, req *Request) (any, error) {
	var cred auth.Credentials
	if err := req.Frame.Bind(&cred); err != nil {
		return nil, err
	}
	id, err := h.auth.Authenticate(ctx, cred)
	if err != nil {
		return nil, err
	}
	req.Session.SetIdentity(id.UserID, id.Permissions)
	return &AuthReply{
		Type:        TypeAuth,
		Status:      "authenticated",
		UserID:      id.UserID,
		Permissions: req.Session.Permissions(),
	}, nil
}

// SubscribeHandler 处理 subscribe 帧，params 作为过滤条件
type SubscribeHandler struct {
	subs   *SubscriptionManager
	policy StreamPolicy
	events *EventBus
}

// NewSubscribeHandler 创建订阅处理器，policy 与 events 可为空
func NewSubscribeHandler(subs *SubscriptionManager, policy StreamPolicy, events *EventBus) (*SubscribeHandler, error) {
	if subs == nil {
		return nil, fmt.Errorf("%w: subscription manager", ErrMissingDependency)
	}
	if policy == nil {
		policy = openPolicy{}
	}
	return &SubscribeHandler{subs: subs, policy: policy, events: events}, nil
}

func (h *SubscribeHandler) Handle(_ context.Context, req *Request) (any, error) {
	stream := req.Frame.Stream
	filter, err := req.Frame.Filter()
	if err != nil {
		return nil, err
	}
	if err := h.policy.Authorize(stream, req.Session.Permissions(), filter); err != nil {
		return nil, err
	}
	if err := h.subs.Subscribe(req.ClientID, stream, filter); err != nil {
		return nil, err
	}
	h.events.Publish(Event{Type: EventSubscribed, ClientID: req.ClientID, UserID: req.Session.UserID(), Stream: stream})
	return &StreamReply{Type: TypeSubscribed, Stream: stream}, nil
}

// UnsubscribeHandler 处理 unsubscribe 帧
type UnsubscribeHandler struct {
	subs   *SubscriptionManager
	events *EventBus
}

// NewUnsubscribeHandler 创建取消订阅处理器
func NewUnsubscribeHandler(subs *SubscriptionManager, events *EventBus) (*UnsubscribeHandler, error) {
	if subs == nil {
		return nil, fmt.Errorf("%w: subscription manager", ErrMissingDependency)
	}
	return &UnsubscribeHandler{subs: subs, events: events}, nil
}

func (h *UnsubscribeHandler) Handle(_ context.Context, req *Request) (any, error) {
	stream := req.Frame.Stream
	if h.subs.Unsubscribe(req.ClientID, stream) {
		h.events.Publish(Event{Type: EventUnsubscribed, ClientID: req.ClientID, UserID: req.Session.UserID(), Stream: stream})
	}
	return &StreamReply{Type: TypeUnsubscribed, Stream: stream}, nil
}

// HeartbeatHandler 处理 heartbeat 帧
type HeartbeatHandler struct {
	conns *ConnectionManager
}

// NewHeartbeatHandler 创建心跳处理器
func NewHeartbeatHandler(conns *ConnectionManager) (*HeartbeatHandler, error) {
	if conns == nil {
		return nil, fmt.Errorf("%w: connection manager", ErrMissingDependency)
	}
	return &HeartbeatHandler{conns: conns}, nil
}

func (h *HeartbeatHandler) Handle(_ context.Context, req *Request) (any, error) {
	h.conns.TouchHeartbeat(req.ClientID)
	return &HeartbeatReply{
		Type:       TypeHeartbeat,
		Status:     "pong",
		ServerTime: time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// LogoutHandler 处理 logout 帧：删除会话与订阅，断开时不再保存快照
type LogoutHandler struct {
	sessions *session.Store
	subs     *SubscriptionManager
}

// NewLogoutHandler 创建登出处理器
func NewLogoutHandler(sessions *session.Store, subs *SubscriptionManager) (*LogoutHandler, error) {
	if sessions == nil {
		return nil, fmt.Errorf("%w: session store", ErrMissingDependency)
	}
	if subs == nil {
		return nil, fmt.Errorf("%w: subscription manager", ErrMissingDependency)
	}
	return &LogoutHandler{sessions: sessions, subs: subs}, nil
}

func (h *LogoutHandler) Handle(ctx context.Context, req *Request) (any, error) {
	req.Session.MarkLoggedOut()
	h.subs.Clear(req.ClientID)
	if err := h.sessions.Delete(ctx, req.ClientID); err != nil {
		return nil, err
	}
	return &StatusReply{Type: TypeLogout, Status: "ok"}, nil
}

// Command 转发给业务执行器的命令
type Command struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"client_id"`
	UserID    string          `json:"user_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Stream    string          `json:"stream,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
}

// CommandExecutor 业务命令执行器（会话启停、策略激活等）
type CommandExecutor interface {
	Execute(ctx context.Context, cmd Command) (any, error)
}

// CommandExecutorFunc 函数适配器
type CommandExecutorFunc func(ctx context.Context, cmd Command) (any, error)

// Execute 实现 CommandExecutor
func (f CommandExecutorFunc) Execute(ctx context.Context, cmd Command) (any, error) {
	return f(ctx, cmd)
}

// CommandReply 命令结果
type CommandReply struct {
	ReplyMeta
	Type   string `json:"type"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}

// CommandHandler 将帧原样转发给执行器
//
// 执行器未装配时每次调用都返回 service_unavailable 并记录 error 日志。
type CommandHandler struct {
	executor CommandExecutor
	log      logger.Logger
}

// NewCommandHandler 创建命令处理器
func NewCommandHandler(executor CommandExecutor, log logger.Logger) (*CommandHandler, error) {
	if log == nil {
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	}
	return &CommandHandler{executor: executor, log: log.With(zap.String("component", "command_handler"))}, nil
}

func (h *CommandHandler) Handle(ctx context.Context, req *Request) (any, error) {
	if h.executor == nil {
		h.log.ErrorContext(ctx, "command executor not configured", zap.String("type", req.Frame.Type))
		return nil, ErrServiceUnavailable.WithMessage(fmt.Sprintf("%s is not available", req.Frame.Type))
	}
	result, err := h.executor.Execute(ctx, Command{
		Type:      req.Frame.Type,
		ClientID:  req.ClientID,
		UserID:    req.Session.UserID(),
		SessionID: req.Frame.SessionID,
		Stream:    req.Frame.Stream,
		Params:    req.Frame.Params,
	})
	if err != nil {
		return nil, err
	}
	return &CommandReply{Type: req.Frame.Type, Status: "accepted", Result: result}, nil
}
