package wecom

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// RecipientAll は全メンバーを宛先とする特別な値。
	RecipientAll = "@all"
	// DefaultButtonText はテキストカードのボタン文言の既定値。
	DefaultButtonText = "详情"
	// MaxNewsArticles はニュースメッセージに含められる記事数の上限。
	MaxNewsArticles = 8

	// DefaultDuplicateCheckInterval は重複チェック間隔の既定値。
	DefaultDuplicateCheckInterval = 1800 * time.Second
	// MaxDuplicateCheckInterval は上流が許容する重複チェック間隔の上限。
	MaxDuplicateCheckInterval = 4 * time.Hour

	maxContentBytes     = 2048
	maxTitleBytes       = 128
	maxDescriptionBytes = 512
)

// Message は送信可能なメッセージ形式を表す。
// Text, Markdown, TextCard, News のいずれかで、パッケージ外からは実装できない。
type Message interface {
	// MsgType は上流APIのmsgtype値を返す。
	MsgType() string
	validate() error
	apply(req *sendRequest, l *zap.Logger)
}

// Text はテキストメッセージ。
type Text struct {
	// Content は本文。2048バイトを超えると上流で切り詰められる可能性がある。
	Content string
	// Safe は機密メッセージとして送信するかどうか。
	Safe bool
	// EnableIDTrans はID変換を有効にするかどうか。
	EnableIDTrans bool
}

// Markdown はMarkdownメッセージ。
type Markdown struct {
	// Content はMarkdown形式の本文。
	Content string
	// Safe は機密メッセージとして送信するかどうか。
	Safe bool
}

// TextCard はテキストカードメッセージ。
type TextCard struct {
	// Title はタイトル（128バイトまで）。
	Title string
	// Description は説明文（512バイトまで）。
	Description string
	// URL はカードをタップした際の遷移先。
	URL string
	// ButtonText はボタンの文言。空の場合はDefaultButtonText。
	ButtonText string
}

// Article はニュースメッセージの1記事。
type Article struct {
	// Title はタイトル。
	Title string `json:"title"`
	// Description は説明文。
	Description string `json:"description,omitempty"`
	// URL は記事の遷移先。
	URL string `json:"url"`
	// PicURL は記事の画像URL。
	PicURL string `json:"picurl,omitempty"`
}

// News はニュース（図文）メッセージ。先頭8記事のみが送信される。
type News struct {
	// Articles は記事の一覧。
	Articles []Article
}

// Options は全形式に共通する宛先と重複チェックの設定。
type Options struct {
	// ToUser はメンバーIDの一覧。ToUser, ToParty, ToTag が全て空の場合は "@all" になる。
	ToUser []string
	// ToParty は部門IDの一覧。
	ToParty []string
	// ToTag はタグIDの一覧。
	ToTag []string
	// EnableDuplicateCheck は重複メッセージチェックを有効にするかどうか。
	EnableDuplicateCheck bool
	// DuplicateCheckInterval は重複チェックの間隔。0の場合は1800秒、上限は4時間。
	DuplicateCheckInterval time.Duration
}

// ParseRecipients は "|" 区切りの宛先文字列を一覧に変換する。空要素は除外する。
func ParseRecipients(s string) []string {
	var out []string
	for _, r := range strings.Split(s, "|") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// textBody はtext/markdownの本文。
type textBody struct {
	Content string `json:"content"`
}

// textCardBody はtextcardの本文。
type textCardBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ButtonText  string `json:"btntxt"`
}

// newsBody はnewsの本文。
type newsBody struct {
	Articles []Article `json:"articles"`
}

// sendRequest はmessage/send APIのリクエストボディ。
type sendRequest struct {
	ToUser                 string        `json:"touser,omitempty"`
	ToParty                string        `json:"toparty,omitempty"`
	ToTag                  string        `json:"totag,omitempty"`
	MsgType                string        `json:"msgtype"`
	AgentID                int           `json:"agentid"`
	Text                   *textBody     `json:"text,omitempty"`
	Markdown               *textBody     `json:"markdown,omitempty"`
	TextCard               *textCardBody `json:"textcard,omitempty"`
	News                   *newsBody     `json:"news,omitempty"`
	Safe                   int           `json:"safe"`
	EnableIDTrans          int           `json:"enable_id_trans"`
	EnableDuplicateCheck   int           `json:"enable_duplicate_check"`
	DuplicateCheckInterval int           `json:"duplicate_check_interval"`
}

// MsgType はmsgtype値を返す。
func (Text) MsgType() string { return "text" }

func (m Text) validate() error {
	if m.Content == "" {
		return fmt.Errorf("%w: 本文が空です", ErrInvalidMessage)
	}
	return nil
}

func (m Text) apply(req *sendRequest, l *zap.Logger) {
	warnIfTooLong(l, "content", m.Content, maxContentBytes)
	req.Text = &textBody{Content: m.Content}
	req.Safe = boolToInt(m.Safe)
	req.EnableIDTrans = boolToInt(m.EnableIDTrans)
}

// MsgType はmsgtype値を返す。
func (Markdown) MsgType() string { return "markdown" }

func (m Markdown) validate() error {
	if m.Content == "" {
		return fmt.Errorf("%w: 本文が空です", ErrInvalidMessage)
	}
	return nil
}

func (m Markdown) apply(req *sendRequest, l *zap.Logger) {
	warnIfTooLong(l, "content", m.Content, maxContentBytes)
	req.Markdown = &textBody{Content: m.Content}
	req.Safe = boolToInt(m.Safe)
}

// MsgType はmsgtype値を返す。
func (TextCard) MsgType() string { return "textcard" }

func (m TextCard) validate() error {
	switch {
	case m.Title == "":
		return fmt.Errorf("%w: タイトルが空です", ErrInvalidMessage)
	case m.Description == "":
		return fmt.Errorf("%w: 説明文が空です", ErrInvalidMessage)
	case m.URL == "":
		return fmt.Errorf("%w: URLが空です", ErrInvalidMessage)
	}
	return nil
}

func (m TextCard) apply(req *sendRequest, l *zap.Logger) {
	warnIfTooLong(l, "title", m.Title, maxTitleBytes)
	warnIfTooLong(l, "description", m.Description, maxDescriptionBytes)
	btn := m.ButtonText
	if btn == "" {
		btn = DefaultButtonText
	}
	req.TextCard = &textCardBody{
		Title:       m.Title,
		Description: m.Description,
		URL:         m.URL,
		ButtonText:  btn,
	}
}

// MsgType はmsgtype値を返す。
func (News) MsgType() string { return "news" }

func (m News) validate() error {
	if len(m.Articles) == 0 {
		return fmt.Errorf("%w: 記事がありません", ErrInvalidMessage)
	}
	for i, a := range m.Articles {
		if i >= MaxNewsArticles {
			break
		}
		if a.Title == "" || a.URL == "" {
			return fmt.Errorf("%w: %d件目の記事にタイトルまたはURLがありません", ErrInvalidMessage, i+1)
		}
	}
	return nil
}

func (m News) apply(req *sendRequest, l *zap.Logger) {
	articles := m.Articles
	if len(articles) > MaxNewsArticles {
		l.Warn("記事数が上限を超えたため先頭のみ送信します",
			zap.Int("articles", len(articles)),
			zap.Int("max", MaxNewsArticles),
		)
		articles = articles[:MaxNewsArticles]
	}
	out := make([]Article, len(articles))
	copy(out, articles)
	req.News = &newsBody{Articles: out}
}

// applyOptions は宛先と重複チェック設定をリクエストに反映する。
func applyOptions(req *sendRequest, opts Options) {
	req.ToUser = strings.Join(opts.ToUser, "|")
	req.ToParty = strings.Join(opts.ToParty, "|")
	req.ToTag = strings.Join(opts.ToTag, "|")
	if req.ToUser == "" && req.ToParty == "" && req.ToTag == "" {
		req.ToUser = RecipientAll
	}

	interval := opts.DuplicateCheckInterval
	if interval <= 0 {
		interval = DefaultDuplicateCheckInterval
	}
	if interval > MaxDuplicateCheckInterval {
		interval = MaxDuplicateCheckInterval
	}
	req.EnableDuplicateCheck = boolToInt(opts.EnableDuplicateCheck)
	req.DuplicateCheckInterval = int(interval / time.Second)
}

// warnIfTooLong は上流の推奨上限を超えるフィールドを警告する。送信は継続する。
func warnIfTooLong(l *zap.Logger, field, v string, limit int) {
	if len(v) > limit {
		l.Warn("フィールドが推奨上限を超えています",
			zap.String("field", field),
			zap.Int("bytes", len(v)),
			zap.Int("limit", limit),
		)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
