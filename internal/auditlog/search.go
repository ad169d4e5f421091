package auditlog

import (
	"context"
	"strings"
	"time"
)

// dateLayout は検索条件の日付形式。
const dateLayout = "2006-01-02"

// SearchQuery はログ検索の条件。ゼロ値の項目は条件に含めない。
type SearchQuery struct {
	// Page は1始まりのページ番号。
	Page int
	// Limit は1ページの件数。
	Limit int
	// CorpID は企業IDの完全一致条件。
	CorpID string
	// Since はこの日時以降（含む）。
	Since time.Time
	// Until はこの日時より前（含まない）。
	Until time.Time
	// Keyword はメッセージ本文またはエラーメッセージの部分一致条件。
	Keyword string
}

// SearchResult はログ検索の結果。
type SearchResult struct {
	// Records は該当ページの監査ログ。
	Records []Record
	// Page は実際に使用したページ番号。
	Page int
	// Limit は実際に使用した件数。
	Limit int
	// Total は条件に一致した総件数。
	Total int64
}

// Pages は総ページ数を返す。
func (r SearchResult) Pages() int64 {
	if r.Limit <= 0 {
		return 0
	}
	return (r.Total + int64(r.Limit) - 1) / int64(r.Limit)
}

// ParseDate は "2006-01-02" 形式の日付をUTCの0時として解釈する。
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, s, time.UTC)
}

// Search は条件に一致する監査ログを新しい順にページ単位で返す。
func (s *Store) Search(ctx context.Context, q SearchQuery) (SearchResult, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := normalizeLimit(q.Limit)

	var (
		conds []string
		args  []any
	)
	if q.CorpID != "" {
		conds = append(conds, "corp_id = ?")
		args = append(args, q.CorpID)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, formatTime(q.Since))
	}
	if !q.Until.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, formatTime(q.Until))
	}
	if q.Keyword != "" {
		conds = append(conds, `(message LIKE ? ESCAPE '\' OR error_message LIKE ? ESCAPE '\')`)
		pattern := "%" + escapeLike(q.Keyword) + "%"
		args = append(args, pattern, pattern)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`+where, args...).Scan(&total); err != nil {
		return SearchResult{}, storageError("検索", err)
	}

	pageArgs := append(append([]any{}, args...), limit, (page-1)*limit)
	rows, err := s.db.QueryContext(ctx,
		selectColumns+where+` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return SearchResult{}, storageError("検索", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return SearchResult{}, err
	}

	return SearchResult{
		Records: records,
		Page:    page,
		Limit:   limit,
		Total:   total,
	}, nil
}

// escapeLike はLIKEパターンの特殊文字をエスケープする。
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
