package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderKeyAPIToken は呼び出し元がAPIトークンを送るHTTPヘッダーキー。
const HeaderKeyAPIToken = "X-API-Token"

// APIToken は固定のAPIトークンで呼び出し元を認証するGinミドルウェアを返す。
// ヘッダーが無い場合は401、値が一致しない場合は403で中断する。
// 拒否理由はc.Errorにも記録され、後続の監査処理から参照できる。
func APIToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(HeaderKeyAPIToken)
		if token == "" {
			abortWithError(c, http.StatusUnauthorized, "認証トークンがありません。リクエストヘッダーに X-API-Token を追加してください")
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			abortWithError(c, http.StatusForbidden, "トークンの検証に失敗しました")
			return
		}
		c.Next()
	}
}

// abortWithError はエラーをコンテキストに記録して失敗レスポンスで中断する。
func abortWithError(c *gin.Context, status int, msg string) {
	_ = c.Error(errors.New(msg))
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
	})
}
