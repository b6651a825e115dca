package middleware

import (
	"time"

	"github.com/tokmz/pushgate"
	"github.com/tokmz/pushgate/pkg/logger"
	"go.uber.org/zap"
)

// LoggerConfig 日志中间件配置
type LoggerConfig struct {
	// Logger 日志实例（必填）
	Logger logger.Logger

	// SkipFunc 跳过日志的函数
	SkipFunc func(c *pushgate.Context) bool

	// ExcludePaths 排除的路径（如 /healthz）
	ExcludePaths []string

	// UpgradePath WebSocket 升级路径，连接建立时额外记录一条日志
	UpgradePath string
}

// DefaultLoggerConfig 返回默认配置
func DefaultLoggerConfig(log logger.Logger) *LoggerConfig {
	return &LoggerConfig{
		Logger:       log,
		ExcludePaths: []string{"/healthz"},
		UpgradePath:  "/ws",
	}
}

// Logger 请求日志中间件
//
// WebSocket 升级请求在连接关闭后才返回，latency 即连接存活时长。
func Logger(log logger.Logger, cfgs ...*LoggerConfig) pushgate.HandlerFunc {
	cfg := DefaultLoggerConfig(log)
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}

	skipMap := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skipMap[path] = true
	}

	return func(c *pushgate.Context) {
		if cfg.SkipFunc != nil && cfg.SkipFunc(c) {
			c.Next()
			return
		}
		path := c.Request().URL.Path
		if skipMap[path] {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request().Method
		clientIP := c.ClientIP()
		ctx := c.RequestContext()

		if path == cfg.UpgradePath {
			cfg.Logger.DebugContext(ctx, "websocket handshake",
				zap.String("client_ip", clientIP),
				zap.String("user_agent", c.Request().UserAgent()),
			)
		}

		c.Next()

		status := c.Writer().Status()
		fields := []zap.Field{
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", clientIP),
		}

		switch {
		case status >= 500:
			cfg.Logger.ErrorContext(ctx, "request completed", fields...)
		case status >= 400:
			cfg.Logger.WarnContext(ctx, "request completed", fields...)
		default:
			cfg.Logger.InfoContext(ctx, "request completed", fields...)
		}
	}
}
