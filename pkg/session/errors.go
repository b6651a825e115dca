package session

import (
	"net/http"

	"github.com/tokmz/pushgate/pkg/errors"
)

var (
	// ErrInvalidToken 重连令牌格式错误或签名不匹配
	ErrInvalidToken = errors.New("invalid_reconnect_token", "invalid reconnect token", http.StatusUnauthorized)
	// ErrTokenExpired 重连令牌已超过有效期
	ErrTokenExpired = errors.New("reconnect_token_expired", "reconnect token expired", http.StatusUnauthorized)
	// ErrInvalidConfig 配置错误
	ErrInvalidConfig = errors.New("session_invalid_config", "session config error")
	// ErrBackend 存储后端失败
	ErrBackend = errors.New("session_backend", "session backend failure")
)
