// 企業微信通知ゲートウェイのエントリポイント。
// /send で受けた通知を企業微信APIへ中継し、全リクエストを監査ログに記録する。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/wecom-gateway/internal/auditlog"
	"github.com/nao1215/wecom-gateway/internal/config"
	"github.com/nao1215/wecom-gateway/internal/gateway"
	"github.com/nao1215/wecom-gateway/pkg/logger"
)

// configPath は --config フラグで指定された設定ファイルのパス。
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "gateway",
		Short:        "企業微信通知ゲートウェイ",
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "設定ファイルのパス")

	root.AddCommand(serveCmd())
	root.AddCommand(pruneCmd())
	root.AddCommand(hashPasswordCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動する",
		RunE:  runServe,
	}
}

func pruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "保持期間を過ぎた監査ログを削除する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, l, err := setup()
			if err != nil {
				return err
			}
			defer l.Sync() //nolint:errcheck

			if days <= 0 {
				days = cfg.Retention.Days
			}

			store, err := auditlog.Open(cmd.Context(), cfg.Database.Path, auditlog.WithLogger(l))
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.Prune(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d件の監査ログを削除しました\n", deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "この日数より古いログを削除する（既定は設定のretention.days）")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "管理者パスワードのbcryptハッシュを出力する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("パスワードのハッシュ化に失敗: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
}

// setup は設定とロガーを初期化する。
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	l, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, l, err := setup()
	if err != nil {
		return err
	}
	defer l.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := auditlog.Open(ctx, cfg.Database.Path, auditlog.WithLogger(l))
	if err != nil {
		return err
	}
	defer store.Close()

	switch {
	case cfg.Auth.JWTSecret == "" && cfg.Auth.DisableAdminAuth:
		l.Warn("管理者認証が無効化されているため、監査ログと統計の参照は認証なしで公開されます。監査ログの削除は利用できません")
	case cfg.Auth.JWTSecret == "":
		l.Warn("JWT署名鍵が未設定のため、監査ログと統計のエンドポイントは503を返します")
	case !cfg.Auth.LoginEnabled():
		l.Warn("管理者のユーザー名またはパスワードハッシュが未設定のため、ログインできません")
	}
	if cfg.Auth.APIToken == "" {
		l.Warn("APIトークンが未設定のため、/send は X-API-Token を要求しません")
	}

	server := gateway.NewServer(cfg, store, l)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("サーバーが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}
