package errors

import "net/http"

/*
	协议层错误码，客户端依赖这些值区分处理方式
*/

const (
	CodeValidation             = "validation_error"
	CodeRateLimited            = "rate_limited"
	CodeCapacityExceeded       = "capacity_exceeded"
	CodeUnauthenticated        = "unauthenticated"
	CodeForbidden              = "forbidden"
	CodeServiceUnavailable     = "service_unavailable"
	CodeHandler                = "handler_error"
	CodeReconnectFailed        = "reconnect_failed"
	CodeUnsupportedMessageType = "unsupported_message_type"
)

var (
	// ErrValidation 帧格式错误或缺少必填字段
	ErrValidation = New(CodeValidation, "invalid frame", http.StatusBadRequest)
	// ErrRateLimited 超出速率或配额
	ErrRateLimited = New(CodeRateLimited, "rate limit exceeded", http.StatusTooManyRequests)
	// ErrCapacityExceeded 连接数已满
	ErrCapacityExceeded = New(CodeCapacityExceeded, "server at capacity", http.StatusServiceUnavailable)
	// ErrUnauthenticated 未认证
	ErrUnauthenticated = New(CodeUnauthenticated, "authentication required", http.StatusUnauthorized)
	// ErrForbidden 权限不足
	ErrForbidden = New(CodeForbidden, "permission denied", http.StatusForbidden)
	// ErrServiceUnavailable 依赖组件未装配
	ErrServiceUnavailable = New(CodeServiceUnavailable, "service unavailable", http.StatusServiceUnavailable)
	// ErrHandler 业务处理器失败
	ErrHandler = New(CodeHandler, "internal handler error")
	// ErrReconnectFailed 重连失败（回退为新连接，不下发给客户端）
	ErrReconnectFailed = New(CodeReconnectFailed, "reconnect failed", http.StatusGone)
	// ErrUnsupportedMessageType 未注册的消息类型
	ErrUnsupportedMessageType = New(CodeUnsupportedMessageType, "unsupported message type", http.StatusBadRequest)
)
