package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// 内置消息类型
const (
	TypeAuth        = "auth"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeHeartbeat   = "heartbeat"
	TypeLogout      = "logout"

	TypeStatus       = "status"
	TypeData         = "data"
	TypeError        = "error"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
)

// Features 欢迎帧中声明的能力
var Features = []string{"reconnect", "heartbeat", "subscriptions"}

// Frame 入站帧
type Frame struct {
	Type      string          `json:"type"`
	Stream    string          `json:"stream,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// HasParams params 是否存在且非 null
func (f *Frame) HasParams() bool {
	p := bytes.TrimSpace(f.Params)
	return len(p) > 0 && !bytes.Equal(p, []byte("null"))
}

// Bind 将 params 解析到 v
func (f *Frame) Bind(v any) error {
	if !f.HasParams() {
		return ErrValidation.WithMessage("params required")
	}
	if err := json.Unmarshal(f.Params, v); err != nil {
		return ErrValidation.WithMessage("invalid params").WithError(err)
	}
	return nil
}

// Filter 将 params 解析为扁平过滤条件，只接受标量值
func (f *Frame) Filter() (Filter, error) {
	if !f.HasParams() {
		return nil, nil
	}
	var raw map[string]any
	if err := json.Unmarshal(f.Params, &raw); err != nil {
		return nil, ErrValidation.WithMessage("params must be an object").WithError(err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	filter := make(Filter, len(raw))
	for k, v := range raw {
		s, ok := scalarString(v)
		if !ok {
			return nil, ErrValidation.WithMessage(fmt.Sprintf("filter %q must be a scalar", k))
		}
		filter[k] = s
	}
	return filter, nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}

// decodeFrame 解析入站帧，失败的帧不会进入处理器
func decodeFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, ErrValidation.WithMessage("malformed frame").WithError(errMalformedFrame)
	}
	if f.Type == "" {
		return &f, ErrValidation.WithMessage("type is required")
	}
	return &f, nil
}

// RequestIDSetter 回显 request_id 的回复
type RequestIDSetter interface {
	SetRequestID(id string)
}

// ReplyMeta 嵌入到回复中以支持 request_id 回显
type ReplyMeta struct {
	RequestID string `json:"request_id,omitempty"`
}

// SetRequestID 实现 RequestIDSetter
func (m *ReplyMeta) SetRequestID(id string) {
	m.RequestID = id
}

// WelcomeFrame 握手成功后下发的第一帧
type WelcomeFrame struct {
	Type           string   `json:"type"`
	Status         string   `json:"status"`
	ClientID       string   `json:"client_id"`
	ReconnectToken string   `json:"reconnect_token"`
	ServerTime     string   `json:"server_time"`
	Features       []string `json:"features"`
	Restored       bool     `json:"restored"`
}

func newWelcomeFrame(clientID, token string, restored bool, now time.Time) *WelcomeFrame {
	return &WelcomeFrame{
		Type:           TypeStatus,
		Status:         "connected",
		ClientID:       clientID,
		ReconnectToken: token,
		ServerTime:     now.UTC().Format(time.RFC3339),
		Features:       Features,
		Restored:       restored,
	}
}

// DataFrame 广播数据帧
type DataFrame struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	Data   any    `json:"data"`
}

// ErrorFrame 错误帧
type ErrorFrame struct {
	Type         string `json:"type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	RequestID    string `json:"request_id,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// AuthReply 认证成功
type AuthReply struct {
	ReplyMeta
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// StreamReply 订阅/取消订阅成功
type StreamReply struct {
	ReplyMeta
	Type   string `json:"type"`
	Stream string `json:"stream"`
}

// HeartbeatReply 心跳回复
type HeartbeatReply struct {
	ReplyMeta
	Type       string `json:"type"`
	Status     string `json:"status"`
	ServerTime string `json:"server_time"`
}

// StatusReply 通用状态回复
type StatusReply struct {
	ReplyMeta
	Type   string `json:"type"`
	Status string `json:"status"`
}
