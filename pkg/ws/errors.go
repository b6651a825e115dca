package ws

import (
	"net/http"
	"time"

	"github.com/tokmz/pushgate/pkg/errors"
)

// 协议层错误，直接映射为错误帧
var (
	ErrValidation             = errors.ErrValidation
	ErrRateLimited            = errors.ErrRateLimited
	ErrCapacityExceeded       = errors.ErrCapacityExceeded
	ErrUnauthenticated        = errors.ErrUnauthenticated
	ErrForbidden              = errors.ErrForbidden
	ErrServiceUnavailable     = errors.ErrServiceUnavailable
	ErrHandler                = errors.ErrHandler
	ErrReconnectFailed        = errors.ErrReconnectFailed
	ErrUnsupportedMessageType = errors.ErrUnsupportedMessageType

	// ErrQuotaExceeded 单客户端订阅数超限
	ErrQuotaExceeded = errors.ErrRateLimited.WithMessage("subscription quota exceeded")
)

// 内部错误
var (
	ErrClientIDExists    = errors.New("ws_client_id_exists", "client id already exists", http.StatusConflict)
	ErrConnectionClosed  = errors.New("ws_connection_closed", "connection closed", http.StatusGone)
	ErrRouterFrozen      = errors.New("ws_router_frozen", "router is frozen")
	ErrHandlerExists     = errors.New("ws_handler_exists", "handler already exists")
	ErrInvalidConfig     = errors.New("ws_invalid_config", "invalid ws config")
	ErrMissingDependency = errors.New("ws_missing_dependency", "missing dependency")

	errMalformedFrame = errors.New("malformed_frame", "frame is not valid json", http.StatusBadRequest)
)

// NewErrorFrame 将错误映射为错误帧
//
// *errors.Error 使用自身错误码，其他错误统一为 handler_error，不向客户端暴露细节。
func NewErrorFrame(err error, requestID string) *ErrorFrame {
	code, msg := ErrHandler.Code, ErrHandler.Message
	var e *errors.Error
	if errors.As(err, &e) {
		code, msg = e.Code, e.Message
	}
	return &ErrorFrame{
		Type:         TypeError,
		ErrorCode:    code,
		ErrorMessage: msg,
		RequestID:    requestID,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}

// isMalformed 帧无法解析
func isMalformed(err error) bool {
	return errors.Is(err, errMalformedFrame)
}
