package wecom

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeUpstream は企業微信APIを模倣するテストサーバー。
type fakeUpstream struct {
	mu sync.Mutex
	// tokenCalls はgettokenの呼び出し回数。
	tokenCalls int
	// sendCalls はmessage/sendの呼び出し回数。
	sendCalls int
	// lastSend は最後に受け取ったmessage/sendのボディ。
	lastSend map[string]any
	// lastAccessToken は最後のmessage/sendに付与されたaccess_token。
	lastAccessToken string

	// tokenResp はgettokenの応答。
	tokenResp string
	// sendResp はmessage/sendの応答。
	sendResp string
	// sendStatus はmessage/sendのHTTPステータス。0の場合は200。
	sendStatus int
}

// newFakeUpstream はfakeUpstreamを起動する。
func newFakeUpstream(t *testing.T) (*fakeUpstream, *httptest.Server) {
	t.Helper()
	f := &fakeUpstream{
		tokenResp: `{"errcode":0,"errmsg":"ok","access_token":"token-1","expires_in":7200}`,
		sendResp:  `{"errcode":0,"errmsg":"ok"}`,
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/gettoken":
			f.tokenCalls++
			_, _ = io.WriteString(w, f.tokenResp)
		case "/message/send":
			f.sendCalls++
			f.lastAccessToken = r.URL.Query().Get("access_token")
			body, _ := io.ReadAll(r.Body)
			f.lastSend = map[string]any{}
			_ = json.Unmarshal(body, &f.lastSend)
			if f.sendStatus != 0 {
				w.WriteHeader(f.sendStatus)
			}
			_, _ = io.WriteString(w, f.sendResp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeUpstream) calls() (token, send int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.sendCalls
}

func (f *fakeUpstream) sent() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSend
}

// fakeClock はテスト用の差し替え可能な時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(t *testing.T, ts *httptest.Server, opts ...Option) *Client {
	t.Helper()
	c := New("corp-1", "secret-1", 1000002, append([]Option{WithBaseURL(ts.URL)}, opts...)...)
	require.NotNil(t, c)
	return c
}
