package wecom

import (
	"context"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// tokenSafetyMargin は上流が示す有効期間から差し引く余裕時間。
	tokenSafetyMargin = 300 * time.Second
	// defaultTokenLifetime は上流がexpires_inを返さなかった場合の有効期間。
	defaultTokenLifetime = 7200 * time.Second
)

// tokenCache はaccess_tokenと失効時刻を保持する。
// 値が有効なのは now < expiresAt の間だけ。
type tokenCache struct {
	mu        sync.Mutex
	value     string
	expiresAt time.Time
}

// tokenResponse はgettoken APIの応答。
type tokenResponse struct {
	ErrCode     *int   `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token は有効なaccess_tokenを返す。
// キャッシュが有効な間は通信を行わず、失効している場合のみ上流から再取得する。
// 取得に失敗した場合は*UpstreamAuthErrorを返す。
func (c *Client) Token(ctx context.Context) (string, error) {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()

	if c.token.value != "" && c.now().Before(c.token.expiresAt) {
		return c.token.value, nil
	}

	c.logger.Info("access_tokenを取得します")

	query := url.Values{
		"corpid":     {c.corpID},
		"corpsecret": {c.corpSecret},
	}
	var resp tokenResponse
	if err := c.http.GetJSON(ctx, "/gettoken", query, &resp); err != nil {
		c.logger.Error("access_token取得リクエストで例外が発生", zap.Error(err))
		return "", &UpstreamAuthError{Message: err.Error(), Err: err}
	}

	if resp.ErrCode == nil || *resp.ErrCode != 0 || resp.AccessToken == "" {
		msg := resp.ErrMsg
		if msg == "" {
			msg = "access_tokenが応答に含まれていません"
		}
		c.logger.Error("access_tokenの取得に失敗", zap.String("errmsg", msg))
		return "", &UpstreamAuthError{Code: resp.ErrCode, Message: msg}
	}

	lifetime := defaultTokenLifetime
	if resp.ExpiresIn > 0 {
		lifetime = time.Duration(resp.ExpiresIn) * time.Second
	}
	c.token.value = resp.AccessToken
	c.token.expiresAt = c.now().Add(lifetime - tokenSafetyMargin)

	c.logger.Info("access_tokenを取得しました", zap.Time("expires_at", c.token.expiresAt))
	return c.token.value, nil
}

// TokenExpiresAt はキャッシュ中のaccess_tokenの失効時刻を返す。未取得の場合はゼロ値。
func (c *Client) TokenExpiresAt() time.Time {
	c.token.mu.Lock()
	defer c.token.mu.Unlock()
	return c.token.expiresAt
}
