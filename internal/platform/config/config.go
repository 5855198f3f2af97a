package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// エンコーダ設定
	Encoder EncoderConfig

	// OpenAI設定（openai プロバイダ用）
	OpenAI OpenAIConfig

	// スキップした文書の記録先（空の場合は記録しない）
	SkipLogDir string

	// ログ設定
	Log LogConfig
}

// EncoderConfig はエンコーダ接続設定
type EncoderConfig struct {
	Provider          string // "inference" or "openai"（空の場合はカタログの値）
	URL               string // 特徴抽出サーバーのURL
	Timeout           time.Duration
	RequestsPerMinute int    // 0 は無制限
	DeviceSlots       int    // 同時に推論できるバッチ数（0 は無制限）
	Catalog           string // モデルカタログのパス（空の場合は組み込み）
}

// OpenAIConfig はOpenAI API設定（Embeddings）
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	EmbeddingDimension int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		Encoder: EncoderConfig{
			Provider:          getEnv("TREC_ENCODER_PROVIDER", ""),
			URL:               getEnv("TREC_ENCODER_URL", "http://localhost:8080"),
			Timeout:           getEnvAsDuration("TREC_ENCODER_TIMEOUT", 5*time.Minute),
			RequestsPerMinute: getEnvAsInt("TREC_ENCODER_RPM", 0),
			DeviceSlots:       getEnvAsInt("TREC_DEVICE_SLOTS", 1),
			Catalog:           getEnv("TREC_MODEL_CATALOG", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:             getEnv("OPENAI_API_KEY", ""),
			BaseURL:            getEnv("OPENAI_BASE_URL", ""),
			EmbeddingDimension: getEnvAsInt("OPENAI_EMBEDDING_DIMENSION", 0),
		},
		SkipLogDir: getEnv("TREC_SKIP_LOG_DIR", ""),
		Log: LogConfig{
			Level:  getEnv("TREC_LOG_LEVEL", "info"),
			Format: getEnv("TREC_LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
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

// getEnvAsDuration は環境変数を time.Duration として取得します
// "90s" のような表記のほか、単位のない数値は秒として扱う
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
