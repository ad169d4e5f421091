package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// contextKeyRequestID はmiddleware.RequestIDがGinコンテキストに設定するキー。
const contextKeyRequestID = "request_id"

// GinLogger はリクエストごとに1行の構造化アクセスログを出力するGinミドルウェアを返す。
// gin.Logger()の代わりに使用する。
func GinLogger(l *zap.Logger) gin.HandlerFunc {
	l = OrNop(l)
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if id := c.GetString(contextKeyRequestID); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			l.Error("リクエスト処理", fields...)
		case status >= 400:
			l.Warn("リクエスト処理", fields...)
		default:
			l.Info("リクエスト処理", fields...)
		}
	}
}
