// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// セッションストアの種類
const (
	SessionStoreRedis  = "redis"
	SessionStoreMemory = "memory"
)

// Config はAPIサーバーの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port     string // APIサーバーのポート番号
	GinMode  string // Ginの実行モード (debug, release, test)
	LogLevel string // zerolog のログレベル

	// セッション設定
	SessionSecret     string // セッションCookie署名用の秘密鍵
	SessionStore      string // セッションストア (redis, memory)
	SessionTTLMinutes int    // セッションの有効期限（分）
	RedisURL          string // セッション/アクティビティ/キュー共用のRedis接続URL

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 認証情報の検証先
	DirectoryPath   string // SQLite のユーザーディレクトリ。空なら単一アカウントを使う
	AppUsername     string // 単一アカウントのユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	AppTenants      string // 単一アカウントのテナント（カンマ区切り、先頭が有効テナント）

	// アクティビティ記録
	ActivityEnabled      bool // ログイン/ログアウト履歴を非同期で記録するか
	ActivityHistoryLimit int  // ユーザーごとに保持する履歴件数
}

// ClientConfig はセッションクライアント側の設定です。
type ClientConfig struct {
	BaseURL string        // 認証エンドポイントのベースURL
	Timeout time.Duration // HTTPリクエストのタイムアウト
	LogFile string        // コンソールUIのログ出力先（空なら出力しない）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:     getEnv("PORT", "9000"),
		GinMode:  getEnv("GIN_MODE", "debug"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SessionSecret:     getEnv("SESSION_SECRET", ""),
		SessionStore:      getEnv("SESSION_STORE", SessionStoreRedis),
		SessionTTLMinutes: getEnvAsInt("SESSION_TTL_MINUTES", 720), // 12時間
		RedisURL:          getEnv("REDIS_URL", "redis://127.0.0.1:6379/0"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:9000"),

		DirectoryPath:   getEnv("DIRECTORY_PATH", ""),
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		AppTenants:      getEnv("APP_TENANTS", ""),

		ActivityEnabled:      getEnvAsBool("ACTIVITY_ENABLED", true),
		ActivityHistoryLimit: getEnvAsInt("ACTIVITY_HISTORY_LIMIT", 50),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadClient はクライアント用の設定を読み込みます。
func LoadClient() (*ClientConfig, error) {
	loadEnvFile()

	config := &ClientConfig{
		BaseURL: strings.TrimRight(getEnv("GROUNDTRUTH_URL", "http://localhost:9000"), "/"),
		Timeout: time.Duration(getEnvAsInt("GROUNDTRUTH_TIMEOUT_SECONDS", 10)) * time.Second,
		LogFile: getEnv("GROUNDTRUTH_LOG_FILE", ""),
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("GROUNDTRUTH_URL is required")
	}
	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	switch c.SessionStore {
	case SessionStoreRedis, SessionStoreMemory:
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", SessionStoreRedis, SessionStoreMemory, c.SessionStore)
	}
	if c.SessionTTLMinutes <= 0 {
		return fmt.Errorf("SESSION_TTL_MINUTES must be positive")
	}
	if c.SessionStore == SessionStoreRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when SESSION_STORE=redis")
	}
	// 署名鍵が空だと Cookie を保存できず、全てのログインが失敗する
	if c.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required")
	}

	// ローカル開発では認証情報は任意
	if c.GinMode == "release" {
		if c.DirectoryPath == "" {
			if c.AppUsername == "" {
				return fmt.Errorf("APP_USERNAME is required in release mode without DIRECTORY_PATH")
			}
			if c.AppPasswordHash == "" {
				return fmt.Errorf("APP_PASSWORD_HASH is required in release mode without DIRECTORY_PATH")
			}
		}
	}

	return nil
}

// SessionTTL はセッションの有効期限を返します。
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// Tenants は APP_TENANTS を順序を保ったまま分解します。
func (c *Config) Tenants() []string {
	return splitList(c.AppTenants)
}

// AllowedOrigins は CORS_ALLOWED_ORIGINS を分解します。
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

func splitList(value string) []string {
	out := []string{}
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
