package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/wecom-gateway/internal/auditlog"
	"github.com/nao1215/wecom-gateway/pkg/middleware"
)

const (
	// contextKeyAudit は監査エントリをGinコンテキストに格納するキー。
	contextKeyAudit = "audit_entry"
	// auditWriteTimeout は監査ログ書き込みのタイムアウト。
	auditWriteTimeout = 5 * time.Second
)

// auditEntry はハンドラが監査ログ用に埋める情報。
type auditEntry struct {
	toUser       string
	message      string
	success      bool
	errorMessage string
}

// getAuditEntry はコンテキストから監査エントリを取得する。
// auditSendの外で呼ばれた場合は破棄用のエントリを返す。
func getAuditEntry(c *gin.Context) *auditEntry {
	if v, ok := c.Get(contextKeyAudit); ok {
		if e, ok := v.(*auditEntry); ok {
			return e
		}
	}
	return &auditEntry{}
}

// auditSend は/sendの全リクエストを監査ログに記録するGinミドルウェアを返す。
// 記録はdeferで行うため、検証エラーや認証エラーで中断した場合やパニックした場合も必ず1件書き込まれる。
// パニックした場合は500を返す。書き込みに失敗してもレスポンスは変更しない。
func (s *Server) auditSend() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		entry := &auditEntry{}
		c.Set(contextKeyAudit, entry)

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("パニックから回復しました",
					zap.String("path", c.Request.URL.Path),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				entry.success = false
				entry.errorMessage = "内部サーバーエラーが発生しました"
				if !c.Writer.Written() {
					c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
						"success": false,
						"error":   entry.errorMessage,
					})
				}
			}
			s.writeAudit(c, entry, start)
		}()

		c.Next()
	}
}

// writeAudit は監査ログを1件書き込む。失敗はログに出力して握りつぶす。
func (s *Server) writeAudit(c *gin.Context, entry *auditEntry, start time.Time) {
	errMsg := entry.errorMessage
	if errMsg == "" && !entry.success && len(c.Errors) > 0 {
		errMsg = c.Errors.Last().Error()
	}

	rec := auditlog.Record{
		RequestID:      middleware.GetRequestID(c),
		Timestamp:      start,
		Method:         c.Request.Method,
		Path:           c.Request.URL.Path,
		ClientIP:       c.ClientIP(),
		UserAgent:      c.Request.UserAgent(),
		CorpID:         strings.TrimSpace(c.GetHeader(HeaderKeyCorpID)),
		AgentID:        parseAgentID(c.GetHeader(HeaderKeyAgentID)),
		ToUser:         entry.toUser,
		Message:        entry.message,
		StatusCode:     c.Writer.Status(),
		ResponseTimeMS: float64(time.Since(start).Microseconds()) / 1000,
		Success:        entry.success,
		ErrorMessage:   errMsg,
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), auditWriteTimeout)
	defer cancel()

	if _, err := s.store.Insert(ctx, rec); err != nil {
		s.logger.Error("監査ログの書き込みに失敗",
			zap.String("request_id", rec.RequestID),
			zap.Int("status", rec.StatusCode),
			zap.Error(err),
		)
	}
}

// parseAgentID はX-Agent-Idを数値として解釈する。数値でない場合はnil。
func parseAgentID(v string) *int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return nil
	}
	return &id
}
