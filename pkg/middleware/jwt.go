package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultJWTTTL は管理者トークンの既定有効期間。
const DefaultJWTTTL = 7 * 24 * time.Hour

// jwtIssuer はトークンの発行者名。
const jwtIssuer = "wecom-gateway"

// CookieKeyAuthToken は管理画面がトークンを保持するCookie名。
const CookieKeyAuthToken = "auth_token"

// JWTClaims はJWTトークンのクレーム（ペイロード）を表す。
type JWTClaims struct {
	jwt.RegisteredClaims
	// Username は認証済み管理者のユーザー名。
	Username string `json:"username"`
}

// GenerateJWT は管理者ユーザー名からJWTトークンを生成する。
// ttlが0以下の場合はDefaultJWTTTLを使用する。
func GenerateJWT(secret, username string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("JWT署名鍵が設定されていません")
	}
	if ttl <= 0 {
		ttl = DefaultJWTTTL
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    jwtIssuer,
		},
		Username: username,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseJWT はトークン文字列を検証し、クレームを返す。
// HS256以外の署名方式は拒否する。
func ParseJWT(secret, tokenString string) (*JWTClaims, error) {
	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(jwtIssuer))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("トークンが無効です")
	}
	return claims, nil
}

// JWTAuth はJWTトークンを検証するGinミドルウェアを返す。
// トークンはAuthorizationヘッダー（Bearer形式）またはauth_token Cookieから取得する。
// 検証に成功した場合、コンテキストに "username" を設定する。
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "未ログインです。先にログインしてください",
			})
			return
		}

		claims, err := ParseJWT(secret, tokenString)
		if err != nil {
			msg := "トークンが無効です"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "トークンの有効期限が切れています"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   msg,
			})
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// bearerToken はリクエストからトークン文字列を取り出す。
func bearerToken(c *gin.Context) (string, bool) {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		return tokenString, found && tokenString != ""
	}
	if cookie, err := c.Cookie(CookieKeyAuthToken); err == nil && cookie != "" {
		return cookie, true
	}
	return "", false
}

// GetUsername はGinコンテキストから管理者ユーザー名を取得する。
// JWTAuthミドルウェアが事前に適用されている必要がある。
func GetUsername(c *gin.Context) string {
	return c.GetString("username")
}
