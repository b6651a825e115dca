// Package auth 提供连接认证。
//
// 客户端在 auth 帧的 params 中携带凭据，Authenticator 将其换成用户身份与权限。
package auth

import (
	"context"
	"net/http"

	"github.com/tokmz/pushgate/pkg/errors"
)

// Identity 认证结果
type Identity struct {
	UserID      string   `json:"user_id" mapstructure:"user_id"`
	Permissions []string `json:"permissions" mapstructure:"permissions"`
}

// Credentials auth 帧携带的凭据，token 与 api_key 二选一
type Credentials struct {
	Token  string `json:"token"`
	APIKey string `json:"api_key"`
}

// Secret 返回非空的那个凭据
func (c Credentials) Secret() string {
	if c.Token != "" {
		return c.Token
	}
	return c.APIKey
}

// Authenticator 凭据校验
type Authenticator interface {
	Authenticate(ctx context.Context, cred Credentials) (*Identity, error)
}

var (
	// ErrInvalidCredentials 凭据无效
	ErrInvalidCredentials = errors.ErrUnauthenticated.WithMessage("invalid credentials")
	// ErrMissingCredentials 未提供凭据
	ErrMissingCredentials = errors.ErrValidation.WithMessage("token or api_key is required")
	// ErrUpstream 认证服务不可用
	ErrUpstream = errors.ErrServiceUnavailable.WithMessage("auth service unavailable")
	// ErrInvalidConfig 配置错误
	ErrInvalidConfig = errors.New("auth_invalid_config", "auth config error", http.StatusInternalServerError)
)
