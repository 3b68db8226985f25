package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultSourceURL は結果一覧ページの既定URL。
const DefaultSourceURL = "https://onlineresults.unipune.ac.in/Result/Dashboard/Default"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string
	DBTimeout   time.Duration

	// Scrape
	SourceURL          string
	ScrapeTimeout      time.Duration
	ScrapeMaxSize      int64
	ScrapeMaxRetries   int
	ScrapeRetryWait    time.Duration
	ScrapeAllowPrivate bool

	// Schedule
	SyncInterval    time.Duration
	NotifyInterval  time.Duration
	NotifyBatchSize int

	// Notification
	WebhookURL         string
	FCMProjectID       string
	FCMCredentialsJSON string
	NotifyDryRun       bool
	TokenRetentionDays int

	// Server
	ServerPort         string
	CORSAllowedOrigin  string
	TriggerSecret      string
	RateLimitPerMinute int

	// Logging
	LogLevel slog.Level
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DBTimeout = getEnvDuration("DB_TIMEOUT", 30*time.Second)
	cfg.SourceURL = getEnvString("SOURCE_URL", DefaultSourceURL)
	cfg.ScrapeTimeout = getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second)
	cfg.ScrapeMaxSize = getEnvInt64("SCRAPE_MAX_SIZE", 5242880)
	cfg.ScrapeMaxRetries = getEnvInt("SCRAPE_MAX_RETRIES", 3)
	cfg.ScrapeRetryWait = getEnvDuration("SCRAPE_RETRY_WAIT", 5*time.Second)
	cfg.ScrapeAllowPrivate = getEnvBool("SCRAPE_ALLOW_PRIVATE", false)
	cfg.SyncInterval = getEnvDuration("SYNC_INTERVAL", 15*time.Minute)
	cfg.NotifyInterval = getEnvDuration("NOTIFY_INTERVAL", time.Minute)
	cfg.NotifyBatchSize = getEnvInt("NOTIFY_BATCH_SIZE", 100)
	cfg.WebhookURL = getEnvString("WEBHOOK_URL", "")
	cfg.FCMProjectID = getEnvString("FCM_PROJECT_ID", "")
	cfg.FCMCredentialsJSON = getEnvString("FCM_CREDENTIALS_JSON", "")
	cfg.NotifyDryRun = getEnvBool("NOTIFY_DRY_RUN", false)
	cfg.TokenRetentionDays = getEnvInt("TOKEN_RETENTION_DAYS", 90)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.TriggerSecret = getEnvString("TRIGGER_SECRET", "")
	cfg.RateLimitPerMinute = getEnvInt("RATE_LIMIT_PER_MINUTE", 60)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)

	if (cfg.FCMProjectID == "") != (cfg.FCMCredentialsJSON == "") {
		return nil, fmt.Errorf("FCM_PROJECT_ID and FCM_CREDENTIALS_JSON must be set together")
	}

	return cfg, nil
}

// FCMEnabled はプッシュ通知の設定が揃っているかどうかを返す。
func (c *Config) FCMEnabled() bool {
	return c.FCMProjectID != "" && c.FCMCredentialsJSON != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
