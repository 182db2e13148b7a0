package zlog

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GinLogger 把请求级 logger（trace/request id、method、path）放进 context，
// 每个请求写一条访问日志
func GinLogger(base *zap.Logger) gin.HandlerFunc {
	if base == nil {
		base = zap.L()
	}
	return func(c *gin.Context) {
		start := time.Now()

		l := base.With(
			zap.String("trace_id", c.GetHeader("X-Trace-Id")),
			zap.String("request_id", c.GetHeader("X-Request-Id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
		)
		c.Request = c.Request.WithContext(WithContext(c.Request.Context(), l))
		c.Next()

		// ws 升级会接管 writer，它的 "access" 是整个会话
		l.Info("access",
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.Int64("bytes_in", c.Request.ContentLength),
			zap.Int("bytes_out", c.Writer.Size()),
		)
	}
}
