package wecom

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/wecom-gateway/pkg/httpclient"
)

// DefaultBaseURL は企業微信APIの公式エンドポイント。
const DefaultBaseURL = "https://qyapi.weixin.qq.com/cgi-bin"

// Client は1つのアプリ（AgentId）として企業微信へメッセージを送るクライアント。
// access_tokenはClientインスタンスごとにキャッシュされる。
type Client struct {
	// corpID は企業ID。
	corpID string
	// corpSecret はアプリのSecret。
	corpSecret string
	// agentID は送信元アプリのAgentId。
	agentID int
	// http は上流APIとの通信クライアント。
	http *httpclient.Client
	// token はキャッシュ済みのaccess_token。
	token tokenCache
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
	// logger はログ出力先。
	logger *zap.Logger
}

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

// Option はClientの生成オプション。
type Option func(*clientOptions)

// WithBaseURL はAPIのベースURLを変更する。プロキシ経由で送信する場合に使用する。
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		if baseURL != "" {
			o.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient は内部で使用するHTTPクライアントを差し替える。
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = hc
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger はログ出力先を設定する。
func WithLogger(l *zap.Logger) Option {
	return func(o *clientOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// New は新しいClientを生成する。
func New(corpID, corpSecret string, agentID int, opts ...Option) *Client {
	o := clientOptions{
		baseURL: DefaultBaseURL,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var httpOpts []httpclient.Option
	if o.httpClient != nil {
		httpOpts = append(httpOpts, httpclient.WithHTTPClient(o.httpClient))
	}

	return &Client{
		corpID:     corpID,
		corpSecret: corpSecret,
		agentID:    agentID,
		http:       httpclient.New(o.baseURL, httpOpts...),
		now:        o.now,
		logger:     o.logger.With(zap.String("corp_id", corpID), zap.Int("agent_id", agentID)),
	}
}

// AgentID は送信元アプリのAgentIdを返す。
func (c *Client) AgentID() int {
	return c.agentID
}
