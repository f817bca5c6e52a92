package web

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"spotfolio/logger"
)

// 高频抓取的路径不写访问日志
var quietPaths = []string{"/metrics", "/debug/pprof", "/ws"}

// GinLoggerMiddleware 访问日志写入 Web 日志文件
// logAll=false 时只记录状态码 >= 400 的请求
func GinLoggerMiddleware(logAll bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		if !logAll && status < 400 {
			return
		}
		if status < 400 && isQuietPath(path) {
			return
		}
		if raw != "" {
			path = path + "?" + raw
		}

		msg := fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
			status, time.Since(start), c.ClientIP(), c.Request.Method, path)
		if errMsg := c.Errors.ByType(gin.ErrorTypePrivate).String(); errMsg != "" {
			msg += " | Error: " + errMsg
		}
		logger.WriteWebLog(msg)
	}
}

func isQuietPath(path string) bool {
	for _, p := range quietPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
