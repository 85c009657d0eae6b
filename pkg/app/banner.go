package app

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 版本号，构建时通过 -ldflags 覆盖
var Version = "dev"

const banner = `
 ██████╗ ██╗██╗    ██╗███████╗   qiws 分布式 WebSocket 消息层
██╔═══██╗██║██║    ██║██╔════╝   endpoint: %s
██║   ██║██║██║ █╗ ██║███████╗   version:  %s
╚██████╔╝██║╚███╔███╔╝╚════██║
 ╚══▀▀═╝ ╚═╝ ╚══╝╚══╝ ███████║
`

// printBanner 打印启动 banner 和路由表
func (e *Engine) printBanner(addr string) {
	out := os.Stdout

	fPrint(out, banner, endpoint(addr, e.config.Path), Version)
	fPrint(out, "\n")

	if routes := e.engine.Routes(); len(routes) > 0 {
		printRoutes(out, routes)
		fPrint(out, "\n")
	}

	fPrint(out, "[qiws] server id: %s\n", e.ws.ServerID())
	fPrint(out, "[qiws] Go version: %s | OS: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fPrint(out, "[qiws] Listening on %s\n", addr)
}

// endpoint 拼接客户端连接地址
func endpoint(addr, path string) string {
	switch {
	case strings.HasPrefix(addr, ":"):
		return "ws://127.0.0.1" + addr + path
	case strings.HasPrefix(addr, "[::]:"):
		return "ws://127.0.0.1" + strings.TrimPrefix(addr, "[::]") + path
	default:
		return "ws://" + addr + path
	}
}

const resetColor = "\033[0m"

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	default:
		return resetColor
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
		fPrint(out, "[qiws] %s %-7s %s %-*s --> %s\n",
			methodColor(r.Method), r.Method, resetColor,
			maxPathLen, r.Path,
			r.Handler)
	}
}

// silenceGin 静默 gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
