package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/wecom-gateway/internal/auditlog"
	"github.com/nao1215/wecom-gateway/internal/config"
	"github.com/nao1215/wecom-gateway/pkg/wecom"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeSender はテスト用のSender。呼び出し内容を記録し、固定の結果を返す。
type fakeSender struct {
	mu sync.Mutex
	// result は返す送信結果。
	result *wecom.SendResult
	// err は返すエラー。
	err error
	// panicValue が設定されている場合は送信時にパニックする。
	panicValue any

	calls   int
	corpID  string
	agentID int
	msg     wecom.Message
	opts    wecom.Options
}

func newFakeSender() *fakeSender {
	return &fakeSender{result: &wecom.SendResult{Success: true, Message: "メッセージを送信しました"}}
}

func (f *fakeSender) factory() SenderFactory {
	return func(corpID, _ string, agentID int) Sender {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.corpID = corpID
		f.agentID = agentID
		return f
	}
}

func (f *fakeSender) Send(_ context.Context, msg wecom.Message, opts wecom.Options) (*wecom.SendResult, error) {
	f.mu.Lock()
	f.calls++
	f.msg = msg
	f.opts = opts
	f.mu.Unlock()

	if f.panicValue != nil {
		panic(f.panicValue)
	}
	return f.result, f.err
}

// testConfig はテスト用の設定を返す。
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Mode = gin.TestMode
	return cfg
}

// setupTestServer はインメモリSQLiteの監査ログストアでテスト用サーバーを構築する。
func setupTestServer(t *testing.T, cfg *config.Config, sender *fakeSender) (*Server, *auditlog.Store) {
	t.Helper()

	store, err := auditlog.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var opts []Option
	if sender != nil {
		opts = append(opts, WithSenderFactory(sender.factory()))
	}
	return NewServer(cfg, store, nil, opts...), store
}

// doRequest はテスト用のHTTPリクエストを実行するヘルパー関数。
func doRequest(s *Server, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// sendHeaders は/sendに必要なヘッダーを返す。
func sendHeaders() map[string]string {
	return map[string]string{
		HeaderKeyCorpID:     "corp-1",
		HeaderKeyCorpSecret: "secret-1",
		HeaderKeyAgentID:    "1000002",
	}
}

// parseJSON はレスポンスボディをmapにデコードするヘルパー関数。
func parseJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result), "body=%s", w.Body.String())
	return result
}

// auditRecords は監査ログを全件取得するヘルパー関数。
func auditRecords(t *testing.T, store *auditlog.Store) []auditlog.Record {
	t.Helper()
	records, err := store.Recent(context.Background(), auditlog.MaxLimit)
	require.NoError(t, err)
	return records
}

// TestHealth はヘルスチェックを検証する。
func TestHealth(t *testing.T) {
	t.Parallel()

	s, _ := setupTestServer(t, testConfig(), nil)
	w := doRequest(s, http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "ok", "service": "wecom-gateway"}, parseJSON(t, w))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}
