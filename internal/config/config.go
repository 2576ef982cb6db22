// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port            int    // 最初に試すポート番号（使用中なら +1 ずつ探す）
	PortSearchLimit int    // 空きポートを探す回数
	GinMode         string // Ginの実行モード (debug, release, test)
	LogLevel        string // zerolog のログレベル

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// 一時ファイル
	TempDir string // アップロードと成果物を置くディレクトリ

	// 外部サービス
	ConvertAPISecret  string // ConvertAPI のシークレット
	ConvertAPIBaseURL string
	RemoveBGAPIKey    string // remove.bg のAPIキー
	RemoveBGURL       string
	OCREngine         string // ninjas または tesseract
	NinjaAPIKey       string // API Ninjas のAPIキー
	NinjaOCRURL       string
	OCRLanguage       string
	FFmpegPath        string
	FFprobePath       string

	// タイムアウト
	ExternalTimeout  time.Duration // 外部HTTPサービス1回あたり
	TranscodeTimeout time.Duration // ffmpeg 1試行あたり

	// ファイル制限（バイト）
	MaxConvertFileSize int64
	MaxVideoFileSize   int64
	MaxImageFileSize   int64
	MaxOCRFileSize     int64
	MaxPDFFileSize     int64

	// お問い合わせ保存先
	DatabaseDSN string

	// ジョブ/キュー設定
	QueueRedisURL       string // Asynq用Redis接続URL（空なら非同期処理は無効）
	AsyncThresholdBytes int64  // 同期処理から非同期へ切り替えるサイズ閾値
	JobExpireMinutes    int    // ジョブの有効期限（分）
	JobResultBaseURL    string // 結果ファイル取得用のベースURL

	// 管理者ログイン
	AdminUsername     string
	AdminPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret     string // セッション署名用の秘密鍵
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:            getEnvAsInt("PORT", 5000),
		PortSearchLimit: getEnvAsInt("PORT_SEARCH_LIMIT", 20),
		GinMode:         getEnv("GIN_MODE", "debug"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),

		TempDir: getEnv("TEMP_DIR", filepath.Join(os.TempDir(), "file-forge")),

		ConvertAPISecret:  getEnv("CONVERT_API_SECRET", ""),
		ConvertAPIBaseURL: getEnv("CONVERT_API_BASE_URL", "https://v2.convertapi.com"),
		RemoveBGAPIKey:    getEnv("REMOVE_BG_API_KEY", ""),
		RemoveBGURL:       getEnv("REMOVE_BG_URL", "https://api.remove.bg/v1.0/removebg"),
		OCREngine:         getEnv("OCR_ENGINE", "ninjas"),
		NinjaAPIKey:       getEnv("NINJA_API_KEY", ""),
		NinjaOCRURL:       getEnv("NINJA_OCR_URL", "https://api.api-ninjas.com/v1/imagetotext"),
		OCRLanguage:       getEnv("OCR_LANGUAGE", "eng"),
		FFmpegPath:        getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnv("FFPROBE_PATH", "ffprobe"),

		ExternalTimeout:  getEnvAsSeconds("EXTERNAL_TIMEOUT_SECONDS", 300),
		TranscodeTimeout: getEnvAsSeconds("TRANSCODE_TIMEOUT_SECONDS", 1800),

		MaxConvertFileSize: getEnvAsInt64("MAX_CONVERT_FILE_SIZE", 50*1024*1024), // 50MB
		MaxVideoFileSize:   getEnvAsInt64("MAX_VIDEO_FILE_SIZE", 500*1024*1024),  // 500MB
		MaxImageFileSize:   getEnvAsInt64("MAX_IMAGE_FILE_SIZE", 5*1024*1024),    // 5MB
		MaxOCRFileSize:     getEnvAsInt64("MAX_OCR_FILE_SIZE", 500*1024),         // 500KB
		MaxPDFFileSize:     getEnvAsInt64("MAX_PDF_FILE_SIZE", 10*1024*1024),     // 10MB

		DatabaseDSN: getEnv("DATABASE_DSN", "file-forge.db"),

		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", ""),
		AsyncThresholdBytes: getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 100*1024*1024), // 100MB
		JobExpireMinutes:    getEnvAsInt("JOB_EXPIRE_MINUTES", 10),
		JobResultBaseURL:    getEnv("JOB_RESULT_BASE_URL", ""),

		AdminUsername:     getEnv("ADMIN_USERNAME", ""),
		AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		SessionSecret:     getEnv("SESSION_SECRET", ""),
	}

	if err := config.Validate(); err != nil {
		return nil, err
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
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535 (got %d)", c.Port)
	}
	if c.PortSearchLimit <= 0 {
		return fmt.Errorf("PORT_SEARCH_LIMIT must be positive")
	}
	switch c.OCREngine {
	case "ninjas", "tesseract":
	default:
		return fmt.Errorf("OCR_ENGINE must be ninjas or tesseract (got %q)", c.OCREngine)
	}
	if c.TempDir == "" {
		return fmt.Errorf("TEMP_DIR is required")
	}

	// ローカル開発では外部サービスのキーは任意
	if c.GinMode == "release" {
		if c.ConvertAPISecret == "" {
			return fmt.Errorf("CONVERT_API_SECRET is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
	}

	return nil
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

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSeconds は秒数の環境変数を time.Duration として取得します。0 以下はタイムアウトなし。
func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	seconds := getEnvAsInt(key, defaultSeconds)
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
