package request

import (
	"net/http"

	"github.com/tokmz/pushgate/pkg/errors"
)

var (
	// ErrRequestFailed 请求发送失败或返回非 2xx
	ErrRequestFailed = errors.New("request_failed", "request failed", http.StatusBadGateway)
	// ErrCanceled 等待重试期间 ctx 结束
	ErrCanceled = errors.New("request_canceled", "request canceled", http.StatusGatewayTimeout)
	ErrMarshal  = errors.New("request_marshal", "marshal request body failed")
	ErrDecode   = errors.New("request_decode", "decode response body failed", http.StatusBadGateway)
	// ErrMaxRetry 重试次数已用尽
	ErrMaxRetry = errors.New("request_max_retry", "retry attempts exhausted", http.StatusBadGateway)
)
