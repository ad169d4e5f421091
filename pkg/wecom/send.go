package wecom

import (
	"context"
	"net/url"

	"go.uber.org/zap"
)

// messageSent は送信成功時のメッセージ。
const messageSent = "メッセージを送信しました"

// SendResult は送信結果を表す。
// 成功時はInvalid*に上流が報告した無効な宛先が入り、
// 失敗時はErrorMessageが必ず設定される。ErrorCodeは上流がエラーを返した場合のみ設定される。
type SendResult struct {
	// Success は送信に成功したかどうか。
	Success bool `json:"success"`
	// Message は成功時のメッセージ。
	Message string `json:"message,omitempty"`
	// InvalidUser は無効なメンバーID。
	InvalidUser string `json:"invaliduser,omitempty"`
	// InvalidParty は無効な部門ID。
	InvalidParty string `json:"invalidparty,omitempty"`
	// InvalidTag は無効なタグID。
	InvalidTag string `json:"invalidtag,omitempty"`
	// ErrorCode は上流が返したerrcode。
	ErrorCode *int `json:"errcode,omitempty"`
	// ErrorMessage は失敗理由。
	ErrorMessage string `json:"error,omitempty"`
}

// Err は失敗した送信結果を*UpstreamSendErrorとして返す。成功時はnil。
func (r *SendResult) Err() error {
	if r == nil || r.Success {
		return nil
	}
	return &UpstreamSendError{Code: r.ErrorCode, Message: r.ErrorMessage}
}

// sendResponse はmessage/send APIの応答。
type sendResponse struct {
	ErrCode      *int   `json:"errcode"`
	ErrMsg       string `json:"errmsg"`
	InvalidUser  string `json:"invaliduser"`
	InvalidParty string `json:"invalidparty"`
	InvalidTag   string `json:"invalidtag"`
}

// SendText はテキストメッセージを送信する。
func (c *Client) SendText(ctx context.Context, msg Text, opts Options) (*SendResult, error) {
	return c.Send(ctx, msg, opts)
}

// SendMarkdown はMarkdownメッセージを送信する。
func (c *Client) SendMarkdown(ctx context.Context, msg Markdown, opts Options) (*SendResult, error) {
	return c.Send(ctx, msg, opts)
}

// SendTextCard はテキストカードメッセージを送信する。
func (c *Client) SendTextCard(ctx context.Context, msg TextCard, opts Options) (*SendResult, error) {
	return c.Send(ctx, msg, opts)
}

// SendNews はニュースメッセージを送信する。9件目以降の記事は破棄される。
func (c *Client) SendNews(ctx context.Context, msg News, opts Options) (*SendResult, error) {
	return c.Send(ctx, msg, opts)
}

// Send はメッセージを1回だけ送信する。
//
// errorが返るのはメッセージの形式が不正な場合（ErrInvalidMessage）と
// access_tokenが取得できなかった場合（*UpstreamAuthError）のみ。
// 上流による拒否や通信エラーは失敗のSendResultとして返す。
func (c *Client) Send(ctx context.Context, msg Message, opts Options) (*SendResult, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}

	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}

	req := sendRequest{
		MsgType: msg.MsgType(),
		AgentID: c.agentID,
	}
	applyOptions(&req, opts)
	msg.apply(&req, c.logger)

	var resp sendResponse
	query := url.Values{"access_token": {token}}
	if err := c.http.PostJSON(ctx, "/message/send", query, req, &resp); err != nil {
		c.logger.Error("メッセージ送信で例外が発生",
			zap.String("msgtype", req.MsgType),
			zap.Error(err),
		)
		return &SendResult{
			Success:      false,
			ErrorMessage: "メッセージ送信で例外が発生: " + err.Error(),
		}, nil
	}

	return c.classify(req.MsgType, resp), nil
}

// classify は上流の応答をSendResultに変換する。
func (c *Client) classify(msgType string, resp sendResponse) *SendResult {
	if resp.ErrCode != nil && *resp.ErrCode == 0 {
		c.logger.Info("メッセージを送信しました",
			zap.String("msgtype", msgType),
			zap.String("invaliduser", resp.InvalidUser),
		)
		return &SendResult{
			Success:      true,
			Message:      messageSent,
			InvalidUser:  resp.InvalidUser,
			InvalidParty: resp.InvalidParty,
			InvalidTag:   resp.InvalidTag,
		}
	}

	msg := resp.ErrMsg
	if msg == "" {
		msg = "上流の応答にerrcodeがありません"
	}
	c.logger.Warn("メッセージ送信が上流に拒否されました",
		zap.String("msgtype", msgType),
		zap.Any("errcode", resp.ErrCode),
		zap.String("errmsg", msg),
	)
	return &SendResult{
		Success:      false,
		ErrorCode:    resp.ErrCode,
		ErrorMessage: msg,
	}
}
