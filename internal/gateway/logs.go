package gateway

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/wecom-gateway/internal/auditlog"
)

const (
	// defaultStatisticsDays は統計の既定集計日数。
	defaultStatisticsDays = 7
	// defaultSearchLimit は検索の既定件数。
	defaultSearchLimit = 20
)

// handleLogs は監査ログを新しい順に返すハンドラ。corp_idを指定すると企業IDで絞り込む。
func (s *Server) handleLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, ok := positiveIntQuery(c, "limit", auditlog.DefaultLimit)
		if !ok {
			return
		}

		var (
			records []auditlog.Record
			err     error
		)
		if corpID := c.Query("corp_id"); corpID != "" {
			records, err = s.store.ByTenant(c.Request.Context(), corpID, limit)
		} else {
			records, err = s.store.Recent(c.Request.Context(), limit)
		}
		if err != nil {
			s.logger.Error("監査ログ取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "監査ログの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    records,
			"count":   len(records),
		})
	}
}

// searchQuery は/logs/searchのクエリパラメータ。
type searchQuery struct {
	// Page は1始まりのページ番号。
	Page int `form:"page" binding:"omitempty,min=1"`
	// Limit は1ページの件数。
	Limit int `form:"limit" binding:"omitempty,min=1,max=1000"`
	// CorpID は企業IDでの絞り込み。
	CorpID string `form:"corp_id"`
	// StartDate はこの日以降（YYYY-MM-DD）。
	StartDate string `form:"start_date" binding:"omitempty,datetime=2006-01-02"`
	// EndDate はこの日まで（YYYY-MM-DD、当日を含む）。
	EndDate string `form:"end_date" binding:"omitempty,datetime=2006-01-02"`
	// Keyword はメッセージ本文またはエラーメッセージの部分一致。
	Keyword string `form:"keyword" binding:"max=200"`
}

// handleSearchLogs は条件を指定して監査ログをページ単位で返すハンドラ。
func (s *Server) handleSearchLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q searchQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "検索条件が不正です"})
			return
		}

		query := auditlog.SearchQuery{
			Page:    q.Page,
			Limit:   q.Limit,
			CorpID:  q.CorpID,
			Keyword: q.Keyword,
		}
		if query.Limit == 0 {
			query.Limit = defaultSearchLimit
		}
		if q.StartDate != "" {
			since, err := auditlog.ParseDate(q.StartDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "start_date が不正です"})
				return
			}
			query.Since = since
		}
		if q.EndDate != "" {
			until, err := auditlog.ParseDate(q.EndDate)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "end_date が不正です"})
				return
			}
			query.Until = until.Add(24 * time.Hour)
		}

		result, err := s.store.Search(c.Request.Context(), query)
		if err != nil {
			s.logger.Error("監査ログ検索エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "監査ログの検索に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    result.Records,
			"pagination": gin.H{
				"page":  result.Page,
				"limit": result.Limit,
				"total": result.Total,
				"pages": result.Pages(),
			},
		})
	}
}

// handlePruneLogs は保持期間を過ぎた監査ログを削除するハンドラ。
func (s *Server) handlePruneLogs() gin.HandlerFunc {
	return func(c *gin.Context) {
		days, ok := positiveIntQuery(c, "older_than_days", s.cfg.Retention.Days)
		if !ok {
			return
		}

		deleted, err := s.store.Prune(c.Request.Context(), days)
		if err != nil {
			s.logger.Error("監査ログ削除エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "監査ログの削除に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"deleted":         deleted,
			"older_than_days": days,
		})
	}
}

// handleStatistics は直近days日間の統計を返すハンドラ。
func (s *Server) handleStatistics() gin.HandlerFunc {
	return func(c *gin.Context) {
		days, ok := positiveIntQuery(c, "days", defaultStatisticsDays)
		if !ok {
			return
		}

		stats, err := s.store.Statistics(c.Request.Context(), days)
		if err != nil {
			s.logger.Error("統計取得エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "統計の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    stats,
			"days":    days,
		})
	}
}

// positiveIntQuery はクエリパラメータを正の整数として取得する。
// 未指定の場合はdefaultValueを返し、不正な値の場合は400で応答してfalseを返す。
func positiveIntQuery(c *gin.Context, key string, defaultValue int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return defaultValue, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": key + " は正の整数である必要があります"})
		return 0, false
	}
	return v, true
}
