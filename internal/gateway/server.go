package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/wecom-gateway/internal/auditlog"
	"github.com/nao1215/wecom-gateway/internal/config"
	"github.com/nao1215/wecom-gateway/pkg/logger"
	"github.com/nao1215/wecom-gateway/pkg/middleware"
	"github.com/nao1215/wecom-gateway/pkg/wecom"
)

// serviceName はヘルスチェックで返すサービス名。
const serviceName = "wecom-gateway"

// AuditStore は監査ログストアの操作。*auditlog.Storeが実装する。
type AuditStore interface {
	Insert(ctx context.Context, rec auditlog.Record) (int64, error)
	Recent(ctx context.Context, limit int) ([]auditlog.Record, error)
	ByTenant(ctx context.Context, corpID string, limit int) ([]auditlog.Record, error)
	Search(ctx context.Context, q auditlog.SearchQuery) (auditlog.SearchResult, error)
	Statistics(ctx context.Context, days int) (auditlog.Statistics, error)
	Prune(ctx context.Context, olderThanDays int) (int64, error)
}

// Sender はメッセージを送信するクライアント。*wecom.Clientが実装する。
type Sender interface {
	Send(ctx context.Context, msg wecom.Message, opts wecom.Options) (*wecom.SendResult, error)
}

// SenderFactory は呼び出し元の資格情報からSenderを生成する。
type SenderFactory func(corpID, corpSecret string, agentID int) Sender

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はゲートウェイの設定。
	cfg *config.Config
	// store は監査ログストア。
	store AuditStore
	// newSender はリクエストごとにSenderを生成する。
	newSender SenderFactory
	// logger はログ出力先。
	logger *zap.Logger
}

// Option はServerの生成オプション。
type Option func(*Server)

// WithSenderFactory はSenderの生成方法を差し替える。
func WithSenderFactory(f SenderFactory) Option {
	return func(s *Server) {
		if f != nil {
			s.newSender = f
		}
	}
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg *config.Config, store AuditStore, l *zap.Logger, opts ...Option) *Server {
	l = logger.OrNop(l)
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	router := gin.New()
	router.Use(middleware.Recovery(l))
	router.Use(middleware.RequestID())
	router.Use(logger.GinLogger(l))
	router.Use(middleware.CORS(cfg.CORS.AllowedOrigins))

	s := &Server{
		router: router,
		cfg:    cfg,
		store:  store,
		logger: l,
	}
	s.newSender = s.defaultSenderFactory()
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()

	return s
}

// defaultSenderFactory は設定に従ってwecom.Clientを生成する関数を返す。
// Clientはリクエストごとに生成されるため、access_tokenのキャッシュもリクエスト内に閉じる。
func (s *Server) defaultSenderFactory() SenderFactory {
	return func(corpID, corpSecret string, agentID int) Sender {
		return wecom.New(corpID, corpSecret, agentID,
			wecom.WithBaseURL(s.cfg.WeCom.BaseURL),
			wecom.WithHTTPClient(&http.Client{Timeout: s.cfg.WeCom.Timeout}),
			wecom.WithLogger(s.logger),
		)
	}
}

// Handler はHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("サーバーを起動します", zap.String("addr", srv.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("サーバーを停止します")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})

	// メッセージ送信。認証で拒否されたリクエストも監査対象にする。
	send := []gin.HandlerFunc{s.auditSend()}
	if s.cfg.Auth.APIToken != "" {
		send = append(send, middleware.APIToken(s.cfg.Auth.APIToken))
	}
	send = append(send, s.handleSend())
	s.router.POST("/send", send...)

	// 管理者認証
	auth := s.router.Group("/auth")
	{
		auth.POST("/login", s.handleLogin())
		auth.GET("/check", s.adminAuth(), s.handleAuthCheck())
	}

	// 監査ログ
	admin := s.router.Group("")
	admin.Use(s.adminAuth())
	{
		admin.GET("/logs", s.handleLogs())
		admin.GET("/logs/search", s.handleSearchLogs())
		admin.GET("/statistics", s.handleStatistics())
	}
	s.router.DELETE("/logs", s.requireJWT(), s.handlePruneLogs())
}

// adminAuth は参照系の管理用エンドポイントの認証ミドルウェアを返す。
// JWT署名鍵が未設定の場合は、auth.disable_admin_authで明示的に無効化されていない限り503で拒否する。
func (s *Server) adminAuth() gin.HandlerFunc {
	if s.cfg.Auth.JWTSecret == "" && s.cfg.Auth.DisableAdminAuth {
		return func(c *gin.Context) { c.Next() }
	}
	return s.requireJWT()
}

// requireJWT はJWT認証を必須とするミドルウェアを返す。署名鍵が未設定の場合は常に503を返す。
func (s *Server) requireJWT() gin.HandlerFunc {
	if s.cfg.Auth.JWTSecret == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false,
				"error":   "管理者認証が設定されていません",
			})
		}
	}
	return middleware.JWTAuth(s.cfg.Auth.JWTSecret)
}
