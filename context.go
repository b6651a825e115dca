package pushgate

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
)

const traceIDKey = "trace_id"

// Context HTTP 接口（升级、发布、健康检查）的请求上下文
type Context struct {
	ctx *gin.Context
}

func NewContext(c *gin.Context) *Context {
	return &Context{ctx: c}
}

func (c *Context) Request() *http.Request      { return c.ctx.Request }
func (c *Context) Writer() gin.ResponseWriter  { return c.ctx.Writer }
func (c *Context) Param(key string) string     { return c.ctx.Param(key) }
func (c *Context) GetHeader(key string) string { return c.ctx.GetHeader(key) }
func (c *Context) ClientIP() string            { return c.ctx.ClientIP() }
func (c *Context) Set(key string, value any)   { c.ctx.Set(key, value) }
func (c *Context) Get(key string) (any, bool)  { return c.ctx.Get(key) }
func (c *Context) Next()                       { c.ctx.Next() }
func (c *Context) Abort()                      { c.ctx.Abort() }

// FullPath 路由模板，如 /publish/:stream；未匹配路由时为空
func (c *Context) FullPath() string { return c.ctx.FullPath() }

// TraceID 由 Tracing 中间件设置
func (c *Context) TraceID() string { return c.ctx.GetString(traceIDKey) }

func (c *Context) SetTraceID(id string) { c.ctx.Set(traceIDKey, id) }

// RequestContext 请求 ctx，附带 trace id 供 *Context 日志方法提取
func (c *Context) RequestContext() context.Context {
	ctx := c.ctx.Request.Context()
	if id := c.TraceID(); id != "" {
		ctx = logger.WithTraceID(ctx, id)
	}
	return ctx
}

// SetRequestContext 中间件注入 span 后替换请求 ctx
func (c *Context) SetRequestContext(ctx context.Context) {
	c.ctx.Request = c.ctx.Request.WithContext(ctx)
}

// BindJSON 解析失败时已写出 400 validation_error，调用方直接返回即可
func (c *Context) BindJSON(obj any) error {
	if err := c.ctx.ShouldBindJSON(obj); err != nil {
		bad := errors.ErrValidation.WithMessage("invalid request body").WithError(err)
		c.RespondError(bad)
		return bad
	}
	return nil
}

func (c *Context) Success(data any) {
	c.respond(http.StatusOK, Success(data))
}

// RespondError 非 *errors.Error 一律按 handler_error 返回，不泄露内部错误文本
func (c *Context) RespondError(err error) {
	e := errors.ErrHandler
	var bizErr *errors.Error
	if errors.As(err, &bizErr) {
		e = bizErr
	}
	c.respond(e.HTTPCode, NewResponse(e.Code, nil, e.Message))
}

func (c *Context) respond(status int, resp *Response) {
	if id := c.TraceID(); id != "" {
		resp.WithTraceID(id)
	}
	c.ctx.JSON(status, resp)
}
