package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderKeyRequestID はリクエストIDを受け渡すHTTPヘッダーキー。
const HeaderKeyRequestID = "X-Request-ID"

// maxRequestIDLength は呼び出し元から受け付けるリクエストIDの最大長。
const maxRequestIDLength = 64

// RequestID はリクエストごとにIDを付与するGinミドルウェアを返す。
// 呼び出し元がX-Request-IDを指定した場合はそれを引き継ぎ、
// 無い場合はUUIDを生成する。IDはレスポンスヘッダーにも設定される。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderKeyRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}
		c.Set("request_id", id)
		c.Header(HeaderKeyRequestID, id)
		c.Next()
	}
}

// GetRequestID はGinコンテキストからリクエストIDを取得する。
func GetRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}
