// Package config はゲートウェイの設定を読み込み、検証する。
//
// 読み込み順は .env → 既定値 → YAMLファイル → 環境変数 で、後のものが優先される。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	// Server はHTTPサーバーの設定。
	Server ServerConfig `yaml:"server"`
	// WeCom は企業微信APIの設定。
	WeCom WeComConfig `yaml:"wecom"`
	// Database は監査ログDBの設定。
	Database DatabaseConfig `yaml:"database"`
	// Auth は認証の設定。
	Auth AuthConfig `yaml:"auth"`
	// Log はログ出力の設定。
	Log LogConfig `yaml:"log"`
	// CORS はCORSの設定。
	CORS CORSConfig `yaml:"cors"`
	// Retention は監査ログの保持設定。
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	// Host は待ち受けアドレス。
	Host string `yaml:"host"`
	// Port は待ち受けポート。
	Port int `yaml:"port" validate:"min=1,max=65535"`
	// Mode はginの動作モード。
	Mode string `yaml:"mode" validate:"oneof=debug release test"`
	// ShutdownTimeout はグレースフルシャットダウンの待ち時間。
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"min=0"`
}

// Addr はhost:port形式の待ち受けアドレスを返す。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// WeComConfig は企業微信APIの設定。
type WeComConfig struct {
	// BaseURL はAPIのベースURL。
	BaseURL string `yaml:"base_url" validate:"required,url"`
	// Timeout は1回の呼び出しのタイムアウト。
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`
}

// DatabaseConfig は監査ログDBの設定。
type DatabaseConfig struct {
	// Path はSQLiteファイルのパス。
	Path string `yaml:"path" validate:"required"`
}

// AuthConfig は認証の設定。空の項目はその認証を無効にする。
type AuthConfig struct {
	// APIToken は/sendに要求するX-API-Tokenの値。
	APIToken string `yaml:"api_token"`
	// JWTSecret は管理者JWTの署名鍵。
	JWTSecret string `yaml:"jwt_secret" validate:"omitempty,min=16"`
	// AdminUsername は管理者のユーザー名。
	AdminUsername string `yaml:"admin_username"`
	// AdminPasswordHash は管理者パスワードのbcryptハッシュ。
	AdminPasswordHash string `yaml:"admin_password_hash"`
	// TokenTTL はJWTの有効期間。
	TokenTTL time.Duration `yaml:"token_ttl" validate:"min=0"`
	// DisableAdminAuth がtrueの場合、JWT署名鍵が未設定でも参照系の管理用エンドポイントを認証なしで公開する。
	// 監査ログの削除は常にJWT認証を要求する。
	DisableAdminAuth bool `yaml:"disable_admin_auth"`
}

// LoginEnabled は管理者ログインが利用可能かどうかを返す。
func (a AuthConfig) LoginEnabled() bool {
	return a.JWTSecret != "" && a.AdminUsername != "" && a.AdminPasswordHash != ""
}

// LogConfig はログ出力の設定。
type LogConfig struct {
	// Level はログレベル。
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	// Development がtrueの場合はコンソール形式で出力する。
	Development bool `yaml:"development"`
}

// CORSConfig はCORSの設定。
type CORSConfig struct {
	// AllowedOrigins は許可するオリジン。空の場合CORSヘッダーを付与しない。
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,url"`
}

// RetentionConfig は監査ログの保持設定。
type RetentionConfig struct {
	// Days は保持日数。
	Days int `yaml:"days" validate:"min=1"`
}

// Default は既定値の設定を返す。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			Mode:            "release",
			ShutdownTimeout: 10 * time.Second,
		},
		WeCom: WeComConfig{
			BaseURL: "https://qyapi.weixin.qq.com/cgi-bin",
			Timeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "data/wecom_gateway.db",
		},
		Auth: AuthConfig{
			AdminUsername: "admin",
			TokenTTL:      7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Retention: RetentionConfig{
			Days: 30,
		},
	}
}

// Load は設定を読み込んで検証する。
// pathが空、または存在しない場合は既定値と環境変数のみを使用する。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf(".envの読み込みに失敗: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("設定ファイル %s の読み込みに失敗: %w", path, err)
		default:
			if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
				return nil, fmt.Errorf("設定ファイル %s の解析に失敗: %w", path, err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}
	return cfg, nil
}

// Validate は設定値を検証する。
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// applyEnv は環境変数で設定を上書きする。
func applyEnv(cfg *Config) error {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORTは数値である必要があります: %q", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RETENTION_DAYSは数値である必要があります: %q", v)
		}
		cfg.Retention.Days = days
	}
	if v := os.Getenv("ADMIN_AUTH_DISABLED"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ADMIN_AUTH_DISABLEDは真偽値である必要があります: %q", v)
		}
		cfg.Auth.DisableAdminAuth = disabled
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	cfg.Server.Mode = getEnvOr("GIN_MODE", cfg.Server.Mode)
	cfg.WeCom.BaseURL = getEnvOr("WECOM_BASE_URL", cfg.WeCom.BaseURL)
	cfg.Database.Path = getEnvOr("DB_PATH", cfg.Database.Path)
	cfg.Auth.APIToken = getEnvOr("API_TOKEN", cfg.Auth.APIToken)
	cfg.Auth.JWTSecret = getEnvOr("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.AdminUsername = getEnvOr("ADMIN_USERNAME", cfg.Auth.AdminUsername)
	cfg.Auth.AdminPasswordHash = getEnvOr("ADMIN_PASSWORD_HASH", cfg.Auth.AdminPasswordHash)
	cfg.Log.Level = getEnvOr("LOG_LEVEL", cfg.Log.Level)
	return nil
}

// getEnvOr は環境変数の値を返す。未設定の場合はデフォルト値を返す。
func getEnvOr(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
