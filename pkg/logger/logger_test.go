package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// TestNew はNew関数を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("既定値でinfoレベルのロガーが生成されること", func(t *testing.T) {
		t.Parallel()

		l, err := New(Config{})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("開発モードでdebugレベルを指定できること", func(t *testing.T) {
		t.Parallel()

		l, err := New(Config{Level: "DEBUG", Development: true})
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("不正なレベルでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		_, err := New(Config{Level: "verbose"})
		require.Error(t, err)
	})
}

// TestOrNop はOrNop関数を検証する。
func TestOrNop(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample()
	assert.Same(t, l, OrNop(l))
}

// TestGinLogger はGinLoggerミドルウェアを検証する。
func TestGinLogger(t *testing.T) {
	t.Parallel()

	t.Run("ステータスに応じたレベルでアクセスログが出力されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zapcore.DebugLevel)
		router := gin.New()
		router.Use(func(c *gin.Context) {
			c.Set(contextKeyRequestID, "req-1")
			c.Next()
		})
		router.Use(GinLogger(zap.New(core)))
		router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
		router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
		router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

		for _, path := range []string{"/ok", "/bad", "/fail"} {
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
		}

		entries := logs.All()
		require.Len(t, entries, 3)
		assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
		assert.Equal(t, "req-1", entries[0].ContextMap()["request_id"])
		assert.Equal(t, "/ok", entries[0].ContextMap()["path"])
	})
}
