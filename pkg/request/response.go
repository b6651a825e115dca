package request

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Response 已读取完毕的响应
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// IsSuccess 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode JSON 反序列化
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ErrDecode.WithError(err)
	}
	return nil
}

// Do 发送请求并将 2xx 响应解码为 *T，其余状态码返回包装了 *StatusError 的错误
func Do[T any](req *Request) (*T, error) {
	resp, err := req.Do()
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, ErrRequestFailed.WithError(newStatusError(resp))
	}
	var out T
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

const maxErrorBodyLen = 512

// StatusError 非 2xx 响应，调用方据状态码区分拒绝与故障
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

func newStatusError(resp *Response) *StatusError {
	body := resp.Body
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
