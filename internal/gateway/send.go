package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/nao1215/wecom-gateway/pkg/httpclient"
	"github.com/nao1215/wecom-gateway/pkg/middleware"
	"github.com/nao1215/wecom-gateway/pkg/wecom"
)

const (
	// HeaderKeyCorpID は企業IDを受け取るHTTPヘッダーキー。
	HeaderKeyCorpID = "X-Corp-Id"
	// HeaderKeyCorpSecret はアプリのSecretを受け取るHTTPヘッダーキー。
	HeaderKeyCorpSecret = "X-Corp-Secret"
	// HeaderKeyAgentID はAgentIdを受け取るHTTPヘッダーキー。
	HeaderKeyAgentID = "X-Agent-Id"

	// maxBodyBytes は/sendが受け付けるボディの最大サイズ。
	maxBodyBytes = 1 << 20
)

// ValidationError はリクエストの検証に失敗したことを表す。400で応答する。
type ValidationError struct {
	// Field は不正だった項目名。
	Field string
	// Message は呼び出し元に返すメッセージ。
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// sendRequest は検証済みの/sendリクエスト。
type sendRequest struct {
	corpID     string
	corpSecret string
	agentID    int
	toUser     string
	message    string
	msg        wecom.Message
	opts       wecom.Options
}

// parseSendRequest はヘッダーとボディを次の順で検証する。
// X-Corp-Id, X-Corp-Secret, X-Agent-Id（数値）, ボディ（JSON）, message（空でない文字列）。
// 検証済みのmessageと宛先は、後続の検証で失敗してもentryに残る。
func parseSendRequest(c *gin.Context, entry *auditEntry) (*sendRequest, error) {
	req := &sendRequest{
		corpID:     strings.TrimSpace(c.GetHeader(HeaderKeyCorpID)),
		corpSecret: strings.TrimSpace(c.GetHeader(HeaderKeyCorpSecret)),
	}
	if req.corpID == "" {
		return nil, invalid(HeaderKeyCorpID, "X-Corp-Id ヘッダーが必要です")
	}
	if req.corpSecret == "" {
		return nil, invalid(HeaderKeyCorpSecret, "X-Corp-Secret ヘッダーが必要です")
	}

	rawAgentID := strings.TrimSpace(c.GetHeader(HeaderKeyAgentID))
	if rawAgentID == "" {
		return nil, invalid(HeaderKeyAgentID, "X-Agent-Id ヘッダーが必要です")
	}
	agentID, err := strconv.Atoi(rawAgentID)
	if err != nil {
		return nil, invalid(HeaderKeyAgentID, "X-Agent-Id は数値である必要があります")
	}
	req.agentID = agentID

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, invalid("body", "リクエストボディの読み込みに失敗しました")
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, invalid("body", "リクエストボディが必要です")
	}
	if !gjson.ValidBytes(body) {
		return nil, invalid("body", "リクエストボディが不正なJSONです")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, invalid("body", "リクエストボディはJSONオブジェクトである必要があります")
	}

	message := root.Get("message")
	if message.Type != gjson.String || message.Str == "" {
		return nil, invalid("message", "message フィールドが必要です")
	}
	req.message = message.Str
	entry.message = req.message

	err = req.parseOptions(root)
	entry.toUser = req.toUser
	if err != nil {
		return nil, err
	}
	if err := req.buildMessage(root); err != nil {
		return nil, err
	}
	return req, nil
}

// parseOptions は宛先と重複チェックの設定を読み取る。
func (r *sendRequest) parseOptions(root gjson.Result) error {
	for _, field := range []string{"touser", "toparty", "totag"} {
		if v := root.Get(field); v.Exists() && v.Type != gjson.String && v.Type != gjson.Null {
			return invalid(field, field+" は文字列である必要があります")
		}
	}

	r.toUser = strings.TrimSpace(root.Get("touser").Str)
	r.opts.ToUser = wecom.ParseRecipients(r.toUser)
	r.opts.ToParty = wecom.ParseRecipients(root.Get("toparty").Str)
	r.opts.ToTag = wecom.ParseRecipients(root.Get("totag").Str)
	if len(r.opts.ToUser) == 0 && len(r.opts.ToParty) == 0 && len(r.opts.ToTag) == 0 {
		r.toUser = wecom.RecipientAll
		r.opts.ToUser = []string{wecom.RecipientAll}
	}

	r.opts.EnableDuplicateCheck = root.Get("enable_duplicate_check").Bool()
	if v := root.Get("duplicate_check_interval"); v.Exists() {
		if v.Type != gjson.Number || v.Int() <= 0 {
			return invalid("duplicate_check_interval", "duplicate_check_interval は正の整数である必要があります")
		}
		r.opts.DuplicateCheckInterval = time.Duration(v.Int()) * time.Second
	}
	return nil
}

// buildMessage はmsgtypeに応じたメッセージを組み立てる。messageは本文（textcardでは説明文）になる。
func (r *sendRequest) buildMessage(root gjson.Result) error {
	msgType := root.Get("msgtype").Str
	if msgType == "" {
		msgType = "text"
	}
	safe := root.Get("safe").Bool()

	switch msgType {
	case "text":
		r.msg = wecom.Text{
			Content:       r.message,
			Safe:          safe,
			EnableIDTrans: root.Get("enable_id_trans").Bool(),
		}
	case "markdown":
		r.msg = wecom.Markdown{Content: r.message, Safe: safe}
	case "textcard":
		title := strings.TrimSpace(root.Get("title").Str)
		if title == "" {
			return invalid("title", "textcard には title が必要です")
		}
		url := strings.TrimSpace(root.Get("url").Str)
		if url == "" {
			return invalid("url", "textcard には url が必要です")
		}
		r.msg = wecom.TextCard{
			Title:       title,
			Description: r.message,
			URL:         url,
			ButtonText:  root.Get("btntxt").Str,
		}
	default:
		return invalid("msgtype", "msgtype は text, markdown, textcard のいずれかである必要があります")
	}
	return nil
}

// handleSend は企業微信へメッセージを1回送信するハンドラ。
// 送信成功は200、検証エラーは400、access_token取得失敗・上流の拒否・通信エラーは500を返す。
func (s *Server) handleSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		entry := getAuditEntry(c)

		req, err := parseSendRequest(c, entry)
		if err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				s.fail(c, entry, http.StatusBadRequest, ve.Message)
				return
			}
			s.fail(c, entry, http.StatusBadRequest, err.Error())
			return
		}
		ctx := httpclient.WithRequestID(c.Request.Context(), middleware.GetRequestID(c))
		sender := s.newSender(req.corpID, req.corpSecret, req.agentID)
		result, err := sender.Send(ctx, req.msg, req.opts)
		if err != nil {
			s.logger.Warn("メッセージを送信できませんでした",
				zap.String("corp_id", req.corpID),
				zap.Int("agent_id", req.agentID),
				zap.Error(err),
			)
			if errors.Is(err, wecom.ErrInvalidMessage) {
				s.fail(c, entry, http.StatusBadRequest, err.Error())
				return
			}
			var authErr *wecom.UpstreamAuthError
			if errors.As(err, &authErr) {
				s.failUpstream(c, entry, err.Error(), authErr.Code)
				return
			}
			s.fail(c, entry, http.StatusInternalServerError, err.Error())
			return
		}

		if sendErr := result.Err(); sendErr != nil {
			s.logger.Warn("メッセージ送信に失敗しました",
				zap.String("corp_id", req.corpID),
				zap.Int("agent_id", req.agentID),
				zap.Error(sendErr),
			)
			s.failUpstream(c, entry, result.ErrorMessage, result.ErrorCode)
			return
		}

		entry.success = true
		c.JSON(http.StatusOK, result)
	}
}

// fail は監査エントリに失敗理由を記録して失敗レスポンスを返す。
func (s *Server) fail(c *gin.Context, entry *auditEntry, status int, msg string) {
	entry.success = false
	entry.errorMessage = msg
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// failUpstream は上流起因の失敗を500で返す。上流のerrcodeがあればレスポンスに含める。
func (s *Server) failUpstream(c *gin.Context, entry *auditEntry, msg string, code *int) {
	entry.success = false
	entry.errorMessage = msg
	body := gin.H{"success": false, "error": msg}
	if code != nil {
		body["errcode"] = *code
	}
	c.JSON(http.StatusInternalServerError, body)
}
