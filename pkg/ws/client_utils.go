package ws

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// 重连令牌的传递位置
const (
	ReconnectTokenHeader = "X-Reconnect-Token"
	ReconnectTokenQuery  = "reconnect_token"
)

// Metadata 连接元数据
type Metadata struct {
	IP          string    `json:"ip"`
	UserAgent   string    `json:"user_agent"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewMetadata 从握手请求提取元数据
func NewMetadata(r *http.Request) Metadata {
	return Metadata{
		IP:          RemoteIP(r),
		UserAgent:   UserAgent(r),
		ConnectedAt: time.Now(),
	}
}

type clientIPKey struct{}

// WithClientIP 写入上层已按可信代理解析出的客户端 IP
func WithClientIP(r *http.Request, ip string) *http.Request {
	if ip == "" {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), clientIPKey{}, ip))
}

// RemoteIP 客户端 IP：WithClientIP 写入的值优先，否则为 TCP 对端地址
//
// 转发头由 HTTP 层结合可信代理列表解析，这里不读取。
func RemoteIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserAgent 客户端 User-Agent，缺省为 unknown
func UserAgent(r *http.Request) string {
	if ua := r.Header.Get("User-Agent"); ua != "" {
		return ua
	}
	return "unknown"
}

// ReconnectToken 读取重连令牌，header 优先
func ReconnectToken(r *http.Request) string {
	if t := r.Header.Get(ReconnectTokenHeader); t != "" {
		return t
	}
	return r.URL.Query().Get(ReconnectTokenQuery)
}

func newClientID() string {
	return uuid.NewString()
}
