package auditlog

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock はテスト用の差し替え可能な時計。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// setupTestStore はインメモリSQLiteでStoreを構築する。
func setupTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	store, err := Open(context.Background(), ":memory:", WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, clock
}

// insertAt は指定日時の監査ログを追加するヘルパー関数。
func insertAt(t *testing.T, s *Store, ts time.Time, corpID string, status int, success bool, responseMS float64) int64 {
	t.Helper()
	id, err := s.Insert(context.Background(), Record{
		Timestamp:      ts,
		Method:         "POST",
		Path:           "/send",
		CorpID:         corpID,
		ToUser:         "@all",
		Message:        "hello",
		StatusCode:     status,
		ResponseTimeMS: responseMS,
		Success:        success,
	})
	require.NoError(t, err)
	return id
}

// TestInsert はInsertとRecentを検証する。
func TestInsert(t *testing.T) {
	t.Parallel()

	t.Run("追加した監査ログが取得できること", func(t *testing.T) {
		t.Parallel()

		store, clock := setupTestStore(t)
		agentID := int64(1000002)
		id, err := store.Insert(context.Background(), Record{
			RequestID:      "req-1",
			Method:         "POST",
			Path:           "/send",
			ClientIP:       "192.0.2.1",
			UserAgent:      "curl/8.0",
			CorpID:         "corp-1",
			AgentID:        &agentID,
			ToUser:         "alice",
			Message:        "こんにちは",
			StatusCode:     200,
			ResponseTimeMS: 12.5,
			Success:        true,
		})
		require.NoError(t, err)
		assert.Positive(t, id)

		records, err := store.Recent(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, records, 1)

		rec := records[0]
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, "req-1", rec.RequestID)
		assert.Equal(t, "corp-1", rec.CorpID)
		require.NotNil(t, rec.AgentID)
		assert.Equal(t, int64(1000002), *rec.AgentID)
		assert.Equal(t, "こんにちは", rec.Message)
		assert.Equal(t, 200, rec.StatusCode)
		assert.InDelta(t, 12.5, rec.ResponseTimeMS, 0.001)
		assert.True(t, rec.Success)
		assert.True(t, clock.Now().Equal(rec.Timestamp))
		assert.True(t, clock.Now().Equal(rec.CreatedAt))
	})

	t.Run("メッセージが500文字に切り詰められること", func(t *testing.T) {
		t.Parallel()

		store, _ := setupTestStore(t)
		_, err := store.Insert(context.Background(), Record{
			Method:     "POST",
			Path:       "/send",
			Message:    strings.Repeat("あ", 600),
			StatusCode: 200,
		})
		require.NoError(t, err)

		records, err := store.Recent(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, strings.Repeat("あ", 500), records[0].Message)
		assert.Nil(t, records[0].AgentID)
	})

	t.Run("新しい順にlimit件まで返すこと", func(t *testing.T) {
		t.Parallel()

		store, clock := setupTestStore(t)
		base := clock.Now()
		for i := range 5 {
			insertAt(t, store, base.Add(time.Duration(i)*time.Minute), "corp-1", 200, true, 1)
		}

		records, err := store.Recent(context.Background(), 3)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.True(t, base.Add(4*time.Minute).Equal(records[0].Timestamp))
		assert.True(t, base.Add(2*time.Minute).Equal(records[2].Timestamp))
	})
}

// TestByTenant はByTenantを検証する。
func TestByTenant(t *testing.T) {
	t.Parallel()

	t.Run("指定した企業IDの監査ログのみ返すこと", func(t *testing.T) {
		t.Parallel()

		store, clock := setupTestStore(t)
		insertAt(t, store, clock.Now(), "corp-a", 200, true, 1)
		insertAt(t, store, clock.Now().Add(time.Second), "corp-b", 500, false, 1)
		insertAt(t, store, clock.Now().Add(2*time.Second), "corp-a", 400, false, 1)

		records, err := store.ByTenant(context.Background(), "corp-a", 10)
		require.NoError(t, err)
		require.Len(t, records, 2)
		for _, r := range records {
			assert.Equal(t, "corp-a", r.CorpID)
		}
		assert.Equal(t, 400, records[0].StatusCode)
	})

	t.Run("該当がない場合は空スライスを返すこと", func(t *testing.T) {
		t.Parallel()

		store, _ := setupTestStore(t)
		records, err := store.ByTenant(context.Background(), "unknown", 10)
		require.NoError(t, err)
		assert.NotNil(t, records)
		assert.Empty(t, records)
	})
}

// TestStatistics はStatisticsを検証する。
func TestStatistics(t *testing.T) {
	t.Parallel()

	t.Run("期間内の件数と成功率と平均応答時間を集計すること", func(t *testing.T) {
		t.Parallel()

		store, clock := setupTestStore(t)
		now := clock.Now()
		insertAt(t, store, now.Add(-time.Hour), "corp-1", 200, true, 10)
		insertAt(t, store, now.Add(-2*time.Hour), "corp-1", 200, true, 20)
		insertAt(t, store, now.Add(-3*time.Hour), "corp-1", 500, false, 31.333)
		insertAt(t, store, now.Add(-10*24*time.Hour), "corp-1", 500, false, 1000)

		stats, err := store.Statistics(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.TotalRequests)
		assert.Equal(t, int64(2), stats.SuccessRequests)
		assert.Equal(t, int64(1), stats.FailedRequests)
		assert.InDelta(t, 66.666, stats.SuccessRate, 0.01)
		assert.Equal(t, 20.44, stats.AvgResponseTime)
	})

	t.Run("同じ条件で2回集計しても結果が変わらないこと", func(t *testing.T) {
		t.Parallel()

		store, clock := setupTestStore(t)
		insertAt(t, store, clock.Now(), "corp-1", 200, true, 5)

		first, err := store.Statistics(context.Background(), 7)
		require.NoError(t, err)
		second, err := store.Statistics(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("データがない場合は全て0になること", func(t *testing.T) {
		t.Parallel()

		store, _ := setupTestStore(t)
		stats, err := store.Statistics(context.Background(), 7)
		require.NoError(t, err)
		assert.Equal(t, Statistics{}, stats)
	})
}

// TestPrune はPruneを検証する。
func TestPrune(t *testing.T) {
	t.Parallel()

	t.Run("40日前と5日前のログから30日より古いものだけ削除すること", func(t *testing.T) {
		t.Parallel()

		store, clock := setupTestStore(t)
		now := clock.Now()
		insertAt(t, store, now.Add(-40*24*time.Hour), "corp-1", 200, true, 1)
		insertAt(t, store, now.Add(-5*24*time.Hour), "corp-1", 200, true, 1)

		deleted, err := store.Prune(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		records, err := store.Recent(context.Background(), 10)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.True(t, now.Add(-5*24*time.Hour).Equal(records[0].Timestamp))
	})
}

// TestStorageError はDBエラーがStorageErrorとして返ることを検証する。
func TestStorageError(t *testing.T) {
	t.Parallel()

	newMockStore := func(t *testing.T) (*Store, sqlmock.Sqlmock) {
		t.Helper()
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return New(db), mock
	}

	t.Run("Insertの失敗がStorageErrorになること", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockStore(t)
		mock.ExpectExec("INSERT INTO request_logs").WillReturnError(errors.New("disk I/O error"))

		_, err := store.Insert(context.Background(), Record{Method: "POST", Path: "/send", StatusCode: 200})
		var storageErr *StorageError
		require.True(t, errors.As(err, &storageErr))
		assert.Equal(t, "追加", storageErr.Op)
		assert.Contains(t, err.Error(), "disk I/O error")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Statisticsの失敗がStorageErrorになること", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockStore(t)
		mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("database is locked"))

		_, err := store.Statistics(context.Background(), 7)
		var storageErr *StorageError
		assert.True(t, errors.As(err, &storageErr))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Pruneの失敗がStorageErrorになること", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockStore(t)
		mock.ExpectExec("DELETE FROM request_logs").WillReturnError(errors.New("readonly database"))

		_, err := store.Prune(context.Background(), 30)
		var storageErr *StorageError
		assert.True(t, errors.As(err, &storageErr))
	})

	t.Run("Recentの失敗がStorageErrorになること", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockStore(t)
		mock.ExpectQuery("FROM request_logs").WillReturnError(errors.New("no such table"))

		_, err := store.Recent(context.Background(), 10)
		var storageErr *StorageError
		assert.True(t, errors.As(err, &storageErr))
	})
}

// TestExcerpt はExcerpt関数を検証する。
func TestExcerpt(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "short", Excerpt("short"))
	assert.Equal(t, 500, len([]rune(Excerpt(strings.Repeat("字", 501)))))
}

// TestOpenFile はファイルDBの接続設定と同時書き込みを検証する。
func TestOpenFile(t *testing.T) {
	t.Parallel()

	openFile := func(t *testing.T) *Store {
		t.Helper()
		store, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	}

	t.Run("WALモードとbusy_timeoutが設定されること", func(t *testing.T) {
		t.Parallel()

		store := openFile(t)

		var mode string
		require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", strings.ToLower(mode))

		var timeout int
		require.NoError(t, store.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 5000, timeout)
	})

	t.Run("同時に書き込んでも全件記録されること", func(t *testing.T) {
		t.Parallel()

		store := openFile(t)

		const workers = 100
		var (
			wg     sync.WaitGroup
			mu     sync.Mutex
			failed []error
		)
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Insert(context.Background(), Record{
					Method:     "POST",
					Path:       "/send",
					CorpID:     "corp-1",
					Message:    fmt.Sprintf("message-%d", i),
					StatusCode: 200,
					Success:    true,
				})
				if err != nil {
					mu.Lock()
					failed = append(failed, err)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Empty(t, failed)
		records, err := store.Recent(context.Background(), MaxLimit)
		require.NoError(t, err)
		assert.Len(t, records, workers)
	})
}
