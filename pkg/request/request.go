package request

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// Request 单次调用，body 预先序列化以便重试时重放
type Request struct {
	client  *Client
	method  string
	url     string
	headers map[string]string
	body    []byte
	ctx     context.Context
	err     error
}

// SetHeader 设置请求头，覆盖客户端默认值
func (r *Request) SetHeader(k, v string) *Request {
	r.headers[k] = v
	return r
}

// SetBody JSON 序列化请求体
func (r *Request) SetBody(body any) *Request {
	data, err := json.Marshal(body)
	if err != nil {
		r.err = ErrMarshal.WithError(err)
		return r
	}
	r.body = data
	r.headers["Content-Type"] = "application/json"
	return r
}

// SetContext 设置请求上下文
func (r *Request) SetContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// Do 发送请求
func (r *Request) Do() (*Response, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.client.execute(r)
}

// build 每次尝试生成新的 http.Request
func (r *Request) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, ErrRequestFailed.WithError(err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.client.cfg.Headers {
		req.Header.Set(k, v)
	}
	if token := r.client.cfg.BearerToken; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	return req, nil
}
