package pushgate

// Handle 将 func(*Context, *Req) (*Resp, error) 适配为 HandlerFunc
//
// 请求体按 JSON 绑定，失败响应 validation_error；handler 返回错误时按错误码响应。
func Handle[Req any, Resp any](handler func(*Context, *Req) (*Resp, error)) HandlerFunc {
	return func(c *Context) {
		req := new(Req)
		if err := c.BindJSON(req); err != nil {
			return
		}
		resp, err := handler(c, req)
		if err != nil {
			c.RespondError(err)
			return
		}
		c.Success(resp)
	}
}

// HandleOnly 无请求体的处理函数
func HandleOnly[Resp any](handler func(*Context) (*Resp, error)) HandlerFunc {
	return func(c *Context) {
		resp, err := handler(c)
		if err != nil {
			c.RespondError(err)
			return
		}
		c.Success(resp)
	}
}
