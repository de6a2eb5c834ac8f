package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config структура конфигурации приложения
type Config struct {
	Server struct {
		Port        int
		Host        string
		Environment string
		MaxUploadMB int
	}
	Detector struct {
		Transport         string // http или grpc
		BaseURL           string
		GRPCAddr          string
		Timeout           int // в секундах
		DefaultConfidence float64
		Warmup            bool // загрузить справочник классов при старте
	}
	Processing struct {
		ScratchDir string
		Timeout    int // в секундах
	}
	Artifacts struct {
		TTLMinutes int
		MaxEntries int
	}
	Database struct {
		Driver   string // postgres или sqlite
		Host     string
		Port     string
		Name     string
		User     string
		Password string
		SSLMode  string
		Path     string
	}
	Logging struct {
		Level string
	}
}

// LoadConfig загружает конфигурацию из переменных окружения.
// Если рядом лежит .env, его значения подхватываются, но не перекрывают уже заданные переменные.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	// Конфигурация сервера
	cfg.Server.Port = getEnvInt("SERVER_PORT", 8080)
	cfg.Server.Host = getEnv("SERVER_HOST", "0.0.0.0")
	cfg.Server.Environment = getEnv("ENVIRONMENT", "development")
	cfg.Server.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", 512)

	// Конфигурация сервера модели
	cfg.Detector.Transport = strings.ToLower(getEnv("DETECTOR_TRANSPORT", "http"))
	cfg.Detector.BaseURL = getEnv("DETECTOR_BASE_URL", "http://localhost:8000")
	cfg.Detector.GRPCAddr = getEnv("DETECTOR_GRPC_ADDR", "localhost:50051")
	cfg.Detector.Timeout = getEnvInt("DETECTOR_TIMEOUT_SECONDS", 30)
	cfg.Detector.DefaultConfidence = getEnvFloat("DEFAULT_CONFIDENCE", 0.2)
	cfg.Detector.Warmup = getEnvBool("DETECTOR_WARMUP", false)

	// Обработка видео
	cfg.Processing.ScratchDir = getEnv("SCRATCH_DIR", os.TempDir())
	cfg.Processing.Timeout = getEnvInt("PROCESSING_TIMEOUT_SECONDS", 1800) // 30 минут по умолчанию

	// Хранение обработанных видео
	cfg.Artifacts.TTLMinutes = getEnvInt("ARTIFACT_TTL_MINUTES", 30)
	cfg.Artifacts.MaxEntries = getEnvInt("ARTIFACT_MAX_ENTRIES", 16)

	// База данных
	cfg.Database.Driver = strings.ToLower(getEnv("DB_DRIVER", "sqlite"))
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnv("DB_PORT", "5432")
	cfg.Database.Name = getEnv("DB_NAME", "ecovision")
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres123")
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", "disable")
	cfg.Database.Path = getEnv("DB_PATH", "ecovision.db")

	// Конфигурация логирования
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	return cfg
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt получает int значение переменной окружения или возвращает значение по умолчанию
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat получает float64 значение переменной окружения или возвращает значение по умолчанию
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool получает bool значение переменной окружения или возвращает значение по умолчанию
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
