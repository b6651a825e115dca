package pushgate

// Response 统一响应结构，Code 与 WebSocket 错误帧使用同一套错误码
type Response struct {
	Code    string `json:"code"`               // ok 或错误码
	Data    any    `json:"data"`               // 响应数据
	Message string `json:"message"`            // 响应消息
	TraceID string `json:"trace_id,omitempty"` // 追踪ID（可选）
}

// CodeOK 成功
const CodeOK = "ok"

// NewResponse 创建响应
func NewResponse(code string, data any, message string) *Response {
	return &Response{
		Code:    code,
		Data:    data,
		Message: message,
	}
}

// WithTraceID 设置追踪ID
func (r *Response) WithTraceID(traceID string) *Response {
	r.TraceID = traceID
	return r
}

// Success 创建成功响应
func Success(data any) *Response {
	return NewResponse(CodeOK, data, "success")
}
