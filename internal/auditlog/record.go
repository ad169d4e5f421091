package auditlog

import (
	"time"
	"unicode/utf8"
)

// MaxMessageRunes は記録するメッセージ本文の最大文字数。
const MaxMessageRunes = 500

// timeLayout はDBに保存する日時の形式。固定長のため文字列の大小比較が時刻順になる。
const timeLayout = "2006-01-02T15:04:05.000Z"

// Record は監査ログの1行。
type Record struct {
	// ID は連番ID。Insert時は無視される。
	ID int64 `json:"id"`
	// RequestID はリクエストID。
	RequestID string `json:"request_id"`
	// Timestamp はリクエストの受信日時。
	Timestamp time.Time `json:"timestamp"`
	// Method はHTTPメソッド。
	Method string `json:"method"`
	// Path はリクエストパス。
	Path string `json:"path"`
	// ClientIP は送信元IPアドレス。
	ClientIP string `json:"client_ip"`
	// UserAgent はUser-Agentヘッダー。
	UserAgent string `json:"user_agent"`
	// CorpID は企業ID。
	CorpID string `json:"corp_id"`
	// AgentID はアプリID。X-Agent-Idが数値でない場合はnil。
	AgentID *int64 `json:"agent_id"`
	// ToUser は宛先。
	ToUser string `json:"touser"`
	// Message はメッセージ本文の先頭部分。
	Message string `json:"message"`
	// StatusCode は返したHTTPステータスコード。
	StatusCode int `json:"status_code"`
	// ResponseTimeMS は応答時間（ミリ秒）。
	ResponseTimeMS float64 `json:"response_time"`
	// Success は送信に成功したかどうか。
	Success bool `json:"success"`
	// ErrorMessage は失敗理由。
	ErrorMessage string `json:"error_message"`
	// CreatedAt は行の作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// Excerpt はメッセージ本文を記録用にMaxMessageRunes文字へ切り詰める。
func Excerpt(s string) string {
	if utf8.RuneCountInString(s) <= MaxMessageRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:MaxMessageRunes])
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
