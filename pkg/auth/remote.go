package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/cache"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/request"
)

// RemoteAuthenticator 调用外部认证服务校验凭据，结果按凭据摘要缓存
//
// 认证服务约定：POST {url}，body {"token": "..."}；
// 200 返回 Identity，401/403 表示凭据无效，其余视为服务故障。
type RemoteAuthenticator struct {
	client *request.Client
	url    string
	cache  *cache.SingleflightCache
	ttl    time.Duration
	log    logger.Logger
}

// NewRemoteAuthenticator 创建远程认证器
func NewRemoteAuthenticator(cfg RemoteConfig, c cache.Cache, log logger.Logger) (*RemoteAuthenticator, error) {
	if c == nil || log == nil {
		return nil, ErrInvalidConfig.WithMessage("remote authenticator requires cache and logger")
	}
	full := &Config{Mode: ModeRemote, Remote: cfg}
	full.setDefaults()
	if err := full.Validate(); err != nil {
		return nil, err
	}
	cfg = full.Remote

	opts := []request.Option{
		request.WithTimeout(cfg.Timeout),
		request.WithLogger(log),
		request.WithTracing(true),
		request.WithBearerToken(cfg.ServiceToken),
		request.WithRetry(&request.RetryConfig{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		}),
	}

	return &RemoteAuthenticator{
		client: request.New(opts...),
		url:    cfg.URL,
		cache:  cache.NewSingleflightCache(c),
		ttl:    cfg.CacheTTL,
		log:    log.With(zap.String("component", "remote_auth")),
	}, nil
}

type introspectRequest struct {
	Token string `json:"token"`
}

// Authenticate 校验凭据，同一凭据的并发请求只回源一次
func (a *RemoteAuthenticator) Authenticate(ctx context.Context, cred Credentials) (*Identity, error) {
	secret := cred.Secret()
	if secret == "" {
		return nil, ErrMissingCredentials
	}
	sum := sha256.Sum256([]byte(secret))
	key := "auth:" + hex.EncodeToString(sum[:])

	id, err := cache.RememberWithLock(ctx, a.cache, key, a.ttl, func() (Identity, error) {
		return a.introspect(ctx, secret)
	})
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (a *RemoteAuthenticator) introspect(ctx context.Context, secret string) (Identity, error) {
	id, err := request.Do[Identity](a.client.Post(a.url).SetContext(ctx).SetBody(introspectRequest{Token: secret}))
	if err == nil {
		if id.UserID == "" {
			return Identity{}, ErrInvalidCredentials
		}
		return *id, nil
	}

	var se *request.StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
		return Identity{}, ErrInvalidCredentials
	}
	a.log.ErrorContext(ctx, "auth introspection failed", zap.String("url", a.url), zap.Error(err))
	return Identity{}, ErrUpstream.WithError(err)
}
