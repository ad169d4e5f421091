package gateway

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/wecom-gateway/pkg/middleware"
)

// loginRequest は管理者ログインのリクエストボディ。
type loginRequest struct {
	// Username はユーザー名。
	Username string `json:"username" binding:"required"`
	// Password はパスワード。
	Password string `json:"password" binding:"required"`
}

// handleLogin は管理者のユーザー名とパスワードを検証してJWTを発行するハンドラ。
// 認証設定が無い場合は503を返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := s.cfg.Auth
		if !auth.LoginEnabled() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "管理者ログインは設定されていません"})
			return
		}

		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "ユーザー名とパスワードを入力してください"})
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(auth.AdminUsername)) == 1
		passErr := bcrypt.CompareHashAndPassword([]byte(auth.AdminPasswordHash), []byte(req.Password))
		if !userOK || passErr != nil {
			s.logger.Warn("管理者ログインに失敗しました",
				zap.String("username", req.Username),
				zap.String("client_ip", c.ClientIP()),
			)
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "ユーザー名またはパスワードが正しくありません"})
			return
		}

		token, err := middleware.GenerateJWT(auth.JWTSecret, req.Username, auth.TokenTTL)
		if err != nil {
			s.logger.Error("JWT生成エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "トークンの生成に失敗しました"})
			return
		}

		s.logger.Info("管理者がログインしました", zap.String("username", req.Username))
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "ログインしました",
			"token":   token,
		})
	}
}

// handleAuthCheck はログイン状態を返すハンドラ。
func (s *Server) handleAuthCheck() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":       true,
			"auth_required": s.cfg.Auth.JWTSecret != "",
			"username":      middleware.GetUsername(c),
		})
	}
}
