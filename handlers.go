package pushgate

import (
	"crypto/subtle"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/ws"
)

// PublishRequest POST /publish/:stream 请求体
type PublishRequest struct {
	Data    json.RawMessage `json:"data" binding:"required"`
	Exclude []string        `json:"exclude"`
}

// PublishResponse 发布结果
type PublishResponse struct {
	Stream         string `json:"stream"`
	DeliveredCount int    `json:"delivered_count"`
}

// HealthResponse 健康检查结果
type HealthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
}

func (e *Engine) mountRoutes() {
	e.engine.GET(e.config.Server.WSPath, WrapHandler(e.handleUpgrade))

	root := &RouterGroup{group: &e.engine.RouterGroup}
	root.GET("/healthz", HandleOnly(e.health))
	root.GET("/stats", e.stats)
	root.POST("/publish/:stream", Handle(e.publish), e.requirePublishToken)
}

// handleUpgrade 在请求 goroutine 中服务 WebSocket 连接直到关闭
func (e *Engine) handleUpgrade(c *Context) {
	r := ws.WithClientIP(c.Request(), c.ClientIP())
	if err := e.gw.HandleUpgrade(c.Writer(), r); err != nil {
		e.log.Debug("websocket upgrade rejected",
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
	}
}

func (e *Engine) health(_ *Context) (*HealthResponse, error) {
	return &HealthResponse{Status: "ok", Connections: e.gw.Conns().Count()}, nil
}

// stats 网关计数加上已注册的附加统计
func (e *Engine) stats(c *Context) {
	out := map[string]any{"gateway": e.gw.Stats()}
	e.mu.RLock()
	for name, fn := range e.statsProviders {
		out[name] = fn()
	}
	e.mu.RUnlock()
	c.Success(out)
}

func (e *Engine) publish(c *Context, req *PublishRequest) (*PublishResponse, error) {
	stream := c.Param("stream")
	if stream == "" {
		return nil, errors.ErrValidation.WithMessage("stream is required")
	}
	if string(req.Data) == "null" {
		return nil, errors.ErrValidation.WithMessage("data is required")
	}

	n := e.gw.Publish(c.RequestContext(), stream, req.Data, ws.WithExclude(req.Exclude...))
	e.log.Debug("published",
		zap.String("stream", stream),
		zap.Int("delivered", n),
	)
	return &PublishResponse{Stream: stream, DeliveredCount: n}, nil
}

// requirePublishToken PublishToken 非空时校验 Bearer token
func (e *Engine) requirePublishToken(c *Context) {
	token := e.config.Server.PublishToken
	if token == "" {
		c.Next()
		return
	}
	got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
		c.RespondError(errors.ErrUnauthenticated)
		c.Abort()
		return
	}
	c.Next()
}
