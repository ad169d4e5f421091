package auditlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/wecom-gateway/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultRetentionDays は監査ログの既定の保持日数。
const DefaultRetentionDays = 30

// Store は監査ログストア。*sql.DBのコネクションプールのみを共有し、
// 各操作はプールから取得した接続で完結する。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sql.DB
	// now は現在時刻を返す関数。テストで差し替える。
	now func() time.Time
	// logger はログ出力先。
	logger *zap.Logger
}

// Option はStoreの生成オプション。
type Option func(*Store)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger はログ出力先を設定する。
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New は既存のDB接続からStoreを生成する。スキーマは作成しない。
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open はSQLiteファイルを開き、マイグレーションを適用したStoreを返す。
// pathが ":memory:" の場合はインメモリDBを単一接続で使用する。
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	dsn := path
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("データベースディレクトリの作成に失敗: %w", err)
			}
		}
		if !strings.Contains(path, "?") {
			dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if memory {
		sqlDB.SetMaxOpenConns(1)
	}

	s := New(sqlDB, opts...)
	if err := s.Migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// Migrate はrequest_logsテーブルを作成・更新する。
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := migration.Run(ctx, s.db, migrationsFS, "migrations", s.logger); err != nil {
		return fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return nil
}

// Close はDB接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はDB接続を確認する。
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageError("接続確認", err)
	}
	return nil
}

const insertRecord = `
INSERT INTO request_logs (
    request_id, timestamp, method, path, client_ip, user_agent,
    corp_id, agent_id, touser, message, status_code, response_time_ms,
    success, error_message, created_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Insert は監査ログを1行追加し、採番されたIDを返す。
// Timestampがゼロ値の場合は現在時刻を使用し、Messageは500文字に切り詰める。
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	now := s.now()
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = now
	}

	var agentID sql.NullInt64
	if rec.AgentID != nil {
		agentID = sql.NullInt64{Int64: *rec.AgentID, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, insertRecord,
		rec.RequestID,
		formatTime(ts),
		rec.Method,
		rec.Path,
		rec.ClientIP,
		rec.UserAgent,
		rec.CorpID,
		agentID,
		rec.ToUser,
		Excerpt(rec.Message),
		rec.StatusCode,
		rec.ResponseTimeMS,
		boolToInt(rec.Success),
		rec.ErrorMessage,
		formatTime(now),
	)
	if err != nil {
		return 0, storageError("追加", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageError("追加", err)
	}
	return id, nil
}

const selectColumns = `
SELECT id, request_id, timestamp, method, path, client_ip, user_agent,
       corp_id, agent_id, touser, message, status_code, response_time_ms,
       success, error_message, created_at
FROM request_logs`

// Recent は新しい順に最大limit件の監査ログを返す。
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` ORDER BY timestamp DESC, id DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, storageError("取得", err)
	}
	return scanRecords(rows)
}

// ByTenant は指定企業IDの監査ログを新しい順に最大limit件返す。
func (s *Store) ByTenant(ctx context.Context, corpID string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE corp_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		corpID, normalizeLimit(limit))
	if err != nil {
		return nil, storageError("取得", err)
	}
	return scanRecords(rows)
}

// Statistics は集計結果。
type Statistics struct {
	// TotalRequests は対象期間の総リクエスト数。
	TotalRequests int64 `json:"total_requests"`
	// SuccessRequests は成功したリクエスト数。
	SuccessRequests int64 `json:"success_requests"`
	// FailedRequests は失敗したリクエスト数。
	FailedRequests int64 `json:"failed_requests"`
	// SuccessRate は成功率（%）。総数が0の場合は0。
	SuccessRate float64 `json:"success_rate"`
	// AvgResponseTime は平均応答時間（ミリ秒、小数第2位まで）。
	AvgResponseTime float64 `json:"avg_response_time"`
}

const selectStatistics = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
       AVG(response_time_ms)
FROM request_logs
WHERE timestamp >= ?`

// Statistics は直近days日間の集計を返す。読み取りのみで状態を変更しない。
func (s *Store) Statistics(ctx context.Context, days int) (Statistics, error) {
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour)

	var (
		stats Statistics
		avg   sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, selectStatistics, formatTime(cutoff)).
		Scan(&stats.TotalRequests, &stats.SuccessRequests, &avg)
	if err != nil {
		return Statistics{}, storageError("集計", err)
	}

	stats.FailedRequests = stats.TotalRequests - stats.SuccessRequests
	if stats.TotalRequests > 0 {
		stats.SuccessRate = float64(stats.SuccessRequests) / float64(stats.TotalRequests) * 100
	}
	if avg.Valid {
		stats.AvgResponseTime = math.Round(avg.Float64*100) / 100
	}
	return stats, nil
}

// Prune はolderThanDays日より古い監査ログを削除し、削除件数を返す。
func (s *Store) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	res, err := s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE timestamp < ?`, formatTime(cutoff))
	if err != nil {
		return 0, storageError("削除", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageError("削除", err)
	}
	s.logger.Info("古い監査ログを削除しました",
		zap.Int("older_than_days", olderThanDays),
		zap.Int64("deleted", n),
	)
	return n, nil
}

// scanRecords は行をRecordのスライスに変換する。
func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			rec       Record
			agentID   sql.NullInt64
			success   int
			timestamp string
			createdAt string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&timestamp,
			&rec.Method,
			&rec.Path,
			&rec.ClientIP,
			&rec.UserAgent,
			&rec.CorpID,
			&agentID,
			&rec.ToUser,
			&rec.Message,
			&rec.StatusCode,
			&rec.ResponseTimeMS,
			&success,
			&rec.ErrorMessage,
			&createdAt,
		); err != nil {
			return nil, storageError("読み取り", err)
		}

		var err error
		if rec.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, storageError("読み取り", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, storageError("読み取り", err)
		}
		if agentID.Valid {
			v := agentID.Int64
			rec.AgentID = &v
		}
		rec.Success = success != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("読み取り", err)
	}
	return records, nil
}

const (
	// DefaultLimit は一覧取得の既定件数。
	DefaultLimit = 100
	// MaxLimit は一覧取得の最大件数。
	MaxLimit = 1000
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
