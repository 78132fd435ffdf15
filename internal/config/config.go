package config

import (
	"os"
	"strconv"
	"time"
)

// DatabaseConfig holds PostgreSQL database connection settings.
type DatabaseConfig struct {
	Host               string
	Port               string
	User               string
	Password           string
	Name               string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetimeSec int
}

// MinIOConfig holds object storage settings for the raw-upload archive.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// GeminiConfig holds settings for the text-completion service.
type GeminiConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	RetryBaseDelay time.Duration
	// PromptTextLimit bounds how much document text is embedded into a prompt.
	PromptTextLimit int
}

// RedisConfig holds settings for the document/vector index.
type RedisConfig struct {
	Addr            string
	Username        string
	Password        string
	IndexName       string
	KeyPrefix       string
	VectorDimension int
	DistanceMetric  string
}

// UploadConfig holds upload validation limits.
type UploadConfig struct {
	MaxFileBytes int64
	// MaxConcurrency bounds per-request fan-out over uploaded files.
	MaxConcurrency int
}

// AppConfig is the centralized configuration struct for the application.
// It is built once at process start from environment variables and is
// read-only afterwards; components receive it by reference, never via
// ambient global lookup.
type AppConfig struct {
	AppHost  string
	Port     string
	Database DatabaseConfig
	MinIO    MinIOConfig
	Gemini   GeminiConfig
	Redis    RedisConfig
	Upload   UploadConfig
}

// Load reads configuration from environment variables.
// A .env file can be auto-loaded by importing: _ "github.com/joho/godotenv/autoload"
// This function does not require a .env file; real environment variables take precedence.
func Load() *AppConfig {
	return &AppConfig{
		AppHost: getEnv("APP_HOST", "localhost:8080"),
		Port:    getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:               getEnv("DB_HOST", ""),
			Port:               getEnv("DB_PORT", "5432"),
			User:               getEnv("DB_USER", ""),
			Password:           getEnv("DB_PASSWORD", ""),
			Name:               getEnv("DB_NAME", ""),
			SSLMode:            getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:       getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:       getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetimeSec: getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", ""),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_BUCKET", "claim-uploads"),
			UseSSL:    getEnvBool("MINIO_USE_SSL", false),
		},
		Gemini: GeminiConfig{
			APIKey:          getEnv("GEMINI_API_KEY", ""),
			Model:           getEnv("GEMINI_MODEL", "gemini-pro"),
			BaseURL:         getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
			Timeout:         time.Duration(getEnvInt("GEMINI_TIMEOUT_SEC", 60)) * time.Second,
			MaxAttempts:     getEnvInt("GEMINI_MAX_ATTEMPTS", 3),
			RetryBaseDelay:  time.Duration(getEnvInt("GEMINI_RETRY_BASE_MS", 500)) * time.Millisecond,
			PromptTextLimit: getEnvInt("GEMINI_PROMPT_TEXT_LIMIT", 2000),
		},
		Redis: RedisConfig{
			Addr:            getEnv("REDIS_ADDR", "localhost:6379"),
			Username:        getEnv("REDIS_USERNAME", ""),
			Password:        getEnv("REDIS_PASSWORD", ""),
			IndexName:       getEnv("REDIS_INDEX_NAME", "doc_idx"),
			KeyPrefix:       getEnv("REDIS_KEY_PREFIX", "doc:"),
			VectorDimension: getEnvInt("REDIS_VECTOR_DIM", 512),
			DistanceMetric:  getEnv("REDIS_VECTOR_METRIC", "COSINE"),
		},
		Upload: UploadConfig{
			MaxFileBytes:   int64(getEnvInt("MAX_FILE_MB", 5)) * 1024 * 1024,
			MaxConcurrency: getEnvInt("PROCESS_MAX_CONCURRENCY", 4),
		},
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}
