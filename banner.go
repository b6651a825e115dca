package pushgate

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/fatih/color"
	"github.com/gin-gonic/gin"
)

// Version 网关版本号
const Version = "0.3.0"

const banner = `
 ┌─┐┬ ┬┌─┐┬ ┬┌─┐┌─┐┌┬┐┌─┐
 ├─┘│ │└─┐├─┤│ ┬├─┤ │ ├┤    realtime push gateway
 ┴  └─┘└─┘┴ ┴└─┘┴ ┴ ┴ └─┘   version: %s
`

// printBanner 打印启动 banner 和路由表（仅 debug 模式）
func (e *Engine) printBanner(addr string) {
	out := os.Stdout

	fPrint(out, "%s", color.CyanString(banner, Version))
	fPrint(out, "\n")

	if routes := e.engine.Routes(); len(routes) > 0 {
		printRoutes(out, routes)
		fPrint(out, "\n")
	}

	fPrint(out, "[pushgate] websocket: %s\n", wsURL(addr, e.config.Server.WSPath))
	fPrint(out, "[pushgate] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[pushgate] Running in %q mode. Switch to \"release\" mode in production.\n", e.config.Mode)
}

// wsURL 拼接可访问的 WebSocket 地址
func wsURL(addr, path string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		return "ws://127.0.0.1" + addr + path
	case strings.Contains(addr, ":"):
		return "ws://" + addr + path
	default:
		return "ws://127.0.0.1:" + addr + path
	}
}

func methodColor(method string) *color.Color {
	switch method {
	case "GET":
		return color.New(color.FgBlue)
	case "POST":
		return color.New(color.FgGreen)
	case "PUT":
		return color.New(color.FgYellow)
	case "DELETE":
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

// printRoutes 格式化打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo) {
	maxPathLen := 0
	for _, r := range routes {
		if len(r.Path) > maxPathLen {
			maxPathLen = len(r.Path)
		}
	}
	for _, r := range routes {
		fPrint(out, "[pushgate] %s %-*s --> %s\n",
			methodColor(r.Method).Sprintf("%-7s", r.Method),
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 Gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
