package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// 管理画面のフロントエンドからログ・統計APIを参照するために使用する。
// allowedOriginsが空の場合は何もしないミドルウェアを返す。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Authorization", "Content-Type",
			HeaderKeyAPIToken, HeaderKeyRequestID,
			"X-Corp-Id", "X-Corp-Secret", "X-Agent-Id",
		},
		ExposeHeaders:    []string{HeaderKeyRequestID},
		AllowCredentials: true,
		MaxAge:           24 * time.Hour,
	})
}
