package pushgate

import (
	"net"
	"os"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
)

// Recovery panic 恢复中间件，响应 handler_error 并记录堆栈
func Recovery(log logger.Logger) HandlerFunc {
	if log == nil {
		log = logger.NewNop()
	}

	return func(c *Context) {
		defer func() {
			if err := recover(); err != nil {
				// 客户端主动断开
				if isBrokenPipe(err) {
					log.Warn("broken pipe",
						zap.Any("error", err),
						zap.String("path", c.Request().URL.Path),
					)
					c.Abort()
					return
				}

				log.Error("panic recovered",
					zap.Any("error", err),
					zap.String("method", c.Request().Method),
					zap.String("path", c.Request().URL.Path),
					zap.String("client_ip", c.ClientIP()),
					zap.String("stack", string(debug.Stack())),
				)
				c.RespondError(errors.ErrHandler)
				c.Abort()
			}
		}()
		c.Next()
	}
}

func isBrokenPipe(err any) bool {
	ne, ok := err.(*net.OpError)
	if !ok {
		return false
	}
	se, ok := ne.Err.(*os.SyscallError)
	if !ok {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
